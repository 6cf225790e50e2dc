package message

import (
	"bytes"
	"time"
)

// AttachmentType is the kind of attachment. It mirrors ContentType for media
// and adds sticker and location.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentSticker  AttachmentType = "sticker"
	AttachmentLocation AttachmentType = "location"
)

// Attachment is a media item or location pin carried by a message.
// Exactly one of URL or Data must be resolvable before the transport uses it.
type Attachment struct {
	Type      AttachmentType `json:"type"`
	URL       string         `json:"url,omitempty"`
	Data      []byte         `json:"data,omitempty"`
	MIMEType  string         `json:"mime_type,omitempty"`
	SizeBytes int64          `json:"size_bytes,omitempty"`
	Filename  string         `json:"filename,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Thumbnail []byte         `json:"thumbnail,omitempty"`

	// Provider-side references. Set on inbound WhatsApp media so the
	// payload can be downloaded and decrypted later.
	MediaID       string `json:"media_id,omitempty"`
	DirectPath    string `json:"direct_path,omitempty"`
	MediaKey      []byte `json:"media_key,omitempty"`
	FileSHA256    []byte `json:"file_sha256,omitempty"`
	FileEncSHA256 []byte `json:"file_enc_sha256,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// HasData reports whether inline bytes are present.
func (a *Attachment) HasData() bool {
	return len(a.Data) > 0
}

// Clone returns a deep copy of the attachment.
func (a Attachment) Clone() Attachment {
	cp := a
	cp.Data = bytes.Clone(a.Data)
	cp.Thumbnail = bytes.Clone(a.Thumbnail)
	cp.MediaKey = bytes.Clone(a.MediaKey)
	cp.FileSHA256 = bytes.Clone(a.FileSHA256)
	cp.FileEncSHA256 = bytes.Clone(a.FileEncSHA256)
	return cp
}

// Media is a downloaded or about-to-be-uploaded binary payload.
type Media struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// MediaUpload is the result of uploading media to a provider.
type MediaUpload struct {
	Success  bool      `json:"success"`
	MediaID  string    `json:"media_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Error    string    `json:"error,omitempty"`
	ExpireAt time.Time `json:"expire_at,omitempty"`
}
