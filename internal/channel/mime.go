package channel

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/flemzord/sbridge/pkg/message"
)

// fallbackExtensions covers types whose registry extension is missing or
// differs from what providers expect.
var fallbackExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
}

// NormalizeMIME lowercases a MIME type and strips parameters, so
// "Audio/OGG; codecs=opus" becomes "audio/ogg".
func NormalizeMIME(s string) string {
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// DetectMIME sniffs the MIME type of data.
func DetectMIME(data []byte) string {
	return NormalizeMIME(mimetype.Detect(data).String())
}

// ExtensionFor returns a file extension (with leading dot) for a MIME type.
// The mimetype registry is consulted first, then a fixed table, and ".bin"
// is returned for anything unknown.
func ExtensionFor(mimeType string) string {
	mt := NormalizeMIME(mimeType)
	if m := mimetype.Lookup(mt); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext, ok := fallbackExtensions[mt]; ok {
		return ext
	}
	return ".bin"
}

// FilenameFor builds a filename from an id and a MIME type.
func FilenameFor(id, mimeType string) string {
	if id == "" {
		id = "media"
	}
	return id + ExtensionFor(mimeType)
}

// ClassifyInbound maps the MIME type of a received attachment onto its
// attachment type. WebP is treated as a sticker.
func ClassifyInbound(mimeType string) message.AttachmentType {
	mt := NormalizeMIME(mimeType)
	switch {
	case mt == "image/webp":
		return message.AttachmentSticker
	case strings.HasPrefix(mt, "image/"):
		return message.AttachmentImage
	case strings.HasPrefix(mt, "video/"):
		return message.AttachmentVideo
	case strings.HasPrefix(mt, "audio/"):
		return message.AttachmentAudio
	default:
		return message.AttachmentDocument
	}
}
