// Package message defines the platform-agnostic data contract between channel
// adapters and the rest of the gateway. Every channel normalizes its native
// shapes into these types and back.
package message

// ContentType discriminates the kind of content carried by a message.
type ContentType string

// Supported content types. Stickers normalize to image and voice notes to
// audio; the distinction is kept in metadata.
const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
	ContentReaction ContentType = "reaction"
)

// IsMedia reports whether the content type carries a binary attachment.
func (c ContentType) IsMedia() bool {
	switch c {
	case ContentImage, ContentVideo, ContentAudio, ContentDocument:
		return true
	}
	return false
}

// MessageStatus is the delivery state reported for an outbound message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// ReceiptType is the kind of acknowledgment carried by a DeliveryReceipt.
type ReceiptType string

const (
	ReceiptDelivered ReceiptType = "delivered"
	ReceiptRead      ReceiptType = "read"
	ReceiptPlayed    ReceiptType = "played"
)

// Status maps a receipt type onto the message status it implies.
func (r ReceiptType) Status() MessageStatus {
	switch r {
	case ReceiptRead, ReceiptPlayed:
		return StatusRead
	default:
		return StatusDelivered
	}
}

// Well-known metadata keys set by the normalizers.
const (
	MetaIsGroup    = "is_group"
	MetaIsSticker  = "is_sticker"
	MetaIsPTT      = "is_ptt"
	MetaReplyToID  = "reply_to_id"
	MetaQuotedText = "quoted_text"
	MetaVCard      = "vcard"
	MetaPushName   = "push_name"
)

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
