package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// DefaultFetchTimeout bounds a single media download.
const DefaultFetchTimeout = 60 * time.Second

const maxRedirects = 10

const (
	kb = 1024
	mb = 1024 * kb
)

// Limits describes what media a channel accepts: a byte ceiling and a list
// of accepted MIME types per category.
type Limits struct {
	MaxBytes map[message.AttachmentType]int64
	Accepted map[message.AttachmentType][]string
}

// categoryOrder fixes the exact-match lookup order so a MIME type listed
// under several categories always resolves the same way.
var categoryOrder = []message.AttachmentType{
	message.AttachmentImage,
	message.AttachmentVideo,
	message.AttachmentAudio,
	message.AttachmentDocument,
	message.AttachmentSticker,
}

// WhatsAppLimits applies to the multi-device WhatsApp transport. Stickers
// are uploaded as images, so image/webp is also accepted as an image.
var WhatsAppLimits = Limits{
	MaxBytes: map[message.AttachmentType]int64{
		message.AttachmentAudio:    16 * mb,
		message.AttachmentDocument: 100 * mb,
		message.AttachmentImage:    5 * mb,
		message.AttachmentSticker:  500 * kb,
		message.AttachmentVideo:    16 * mb,
	},
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentAudio: {"audio/aac", "audio/mp4", "audio/mpeg", "audio/amr", "audio/ogg", "audio/opus"},
		message.AttachmentDocument: {
			"text/plain",
			"application/pdf",
			"application/vnd.ms-powerpoint",
			"application/msword",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		message.AttachmentImage:   {"image/jpeg", "image/png", "image/webp"},
		message.AttachmentSticker: {"image/webp"},
		message.AttachmentVideo:   {"video/mp4", "video/3gpp"},
	},
}

// TelegramLimits applies to the Bot API.
var TelegramLimits = Limits{
	MaxBytes: map[message.AttachmentType]int64{
		message.AttachmentImage:    10 * mb,
		message.AttachmentVideo:    50 * mb,
		message.AttachmentAudio:    50 * mb,
		message.AttachmentDocument: 50 * mb,
		message.AttachmentSticker:  512 * kb,
	},
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage:   {"image/jpeg", "image/png", "image/gif", "image/webp"},
		message.AttachmentVideo:   {"video/mp4"},
		message.AttachmentAudio:   {"audio/mpeg", "audio/ogg", "audio/mp4"},
		message.AttachmentSticker: {"image/webp"},
	},
}

// MessengerLimits applies to Facebook Messenger.
var MessengerLimits = Limits{
	MaxBytes: uniformLimit(25 * mb),
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage:    {"image/jpeg", "image/png", "image/gif"},
		message.AttachmentVideo:    {"video/mp4"},
		message.AttachmentAudio:    {"audio/mpeg"},
		message.AttachmentDocument: {"application/pdf"},
	},
}

// InstagramLimits applies to Instagram Direct.
var InstagramLimits = Limits{
	MaxBytes: uniformLimit(8 * mb),
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage: {"image/jpeg", "image/png"},
		message.AttachmentVideo: {"video/mp4"},
		message.AttachmentAudio: {"audio/mp4"},
	},
}

// WebchatLimits applies to the embedded web widget.
var WebchatLimits = Limits{
	MaxBytes: uniformLimit(10 * mb),
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage: {"image/jpeg", "image/png", "image/gif", "image/webp"},
		message.AttachmentDocument: {
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
	},
}

// SMSLimits applies to MMS through Twilio. The carrier ceiling is per
// message; each attachment is held to it.
var SMSLimits = Limits{
	MaxBytes: uniformLimit(5 * mb),
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage:    {"image/jpeg", "image/png", "image/gif"},
		message.AttachmentVideo:    {"video/mp4", "video/3gpp"},
		message.AttachmentAudio:    {"audio/mpeg", "audio/mp4", "audio/amr", "audio/ogg"},
		message.AttachmentDocument: {"application/pdf", "text/vcard", "text/x-vcard"},
	},
}

// EmailLimits applies to outbound mail. Any MIME type can be attached.
var EmailLimits = Limits{
	MaxBytes: uniformLimit(25 * mb),
}

// RCSLimits applies to RCS Business Messaging files.
var RCSLimits = Limits{
	MaxBytes: uniformLimit(100 * mb),
	Accepted: map[message.AttachmentType][]string{
		message.AttachmentImage:    {"image/jpeg", "image/png", "image/gif"},
		message.AttachmentVideo:    {"video/mp4", "video/mpeg", "video/webm", "video/h263", "video/m4v"},
		message.AttachmentAudio:    {"audio/aac", "audio/mpeg", "audio/mp4", "audio/3gpp", "audio/ogg"},
		message.AttachmentDocument: {"application/pdf"},
	},
}

func uniformLimit(n int64) map[message.AttachmentType]int64 {
	m := make(map[message.AttachmentType]int64, len(categoryOrder))
	for _, c := range categoryOrder {
		m[c] = n
	}
	return m
}

// Category returns the category used for limit lookup: an exact match in
// the accepted lists first, then the top-level type, then document.
func (l Limits) Category(mimeType string) message.AttachmentType {
	mt := NormalizeMIME(mimeType)
	for _, c := range categoryOrder {
		if slices.Contains(l.Accepted[c], mt) {
			return c
		}
	}
	switch {
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

// MaxSize returns the largest ceiling across all categories.
func (l Limits) MaxSize() int64 {
	var n int64
	for _, v := range l.MaxBytes {
		n = max(n, v)
	}
	return n
}

// Check validates a resolved attachment against the limits. A category with
// no accepted list accepts any MIME type; one with no ceiling accepts any size.
func (l Limits) Check(a message.Attachment) error {
	if a.Type == message.AttachmentLocation {
		return nil
	}
	mt := a.MIMEType
	if mt == "" && a.HasData() {
		mt = DetectMIME(a.Data)
	}
	mt = NormalizeMIME(mt)
	cat := l.Category(mt)

	if accepted, ok := l.Accepted[cat]; ok && len(accepted) > 0 && !slices.Contains(accepted, mt) {
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mt)
	}

	size := int64(len(a.Data))
	if size == 0 {
		size = a.SizeBytes
	}
	if ceiling, ok := l.MaxBytes[cat]; ok && ceiling > 0 && size > ceiling {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMediaTooLarge, cat, size, ceiling)
	}
	return nil
}

// CheckDeclared validates the metadata a URL-only attachment carries before
// it is handed to a platform that downloads it itself. An attachment with no
// declared MIME type is only held to the ceiling of its declared type.
func (l Limits) CheckDeclared(a message.Attachment) error {
	if a.MIMEType != "" {
		return l.Check(a)
	}
	if ceiling, ok := l.MaxBytes[a.Type]; ok && ceiling > 0 && a.SizeBytes > ceiling {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMediaTooLarge, a.Type, a.SizeBytes, ceiling)
	}
	return nil
}

// ceilingFor returns the download ceiling for a: its declared MIME category,
// then its declared type, then the largest ceiling in the table.
func (l Limits) ceilingFor(a message.Attachment) int64 {
	if a.MIMEType != "" {
		if n := l.MaxBytes[l.Category(a.MIMEType)]; n > 0 {
			return n
		}
	}
	if n := l.MaxBytes[a.Type]; n > 0 {
		return n
	}
	return l.MaxSize()
}

// URLChecker vets a URL before it is fetched.
type URLChecker interface {
	Check(rawURL string) error
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Limits    Limits
	Client    *http.Client
	Timeout   time.Duration
	URLFilter URLChecker
}

// Resolver turns outbound attachments into inline bytes ready for upload.
type Resolver struct {
	limits    Limits
	client    *http.Client
	timeout   time.Duration
	urlFilter URLChecker
}

// NewResolver creates a Resolver. With a URL filter set, every redirect hop
// is vetted as well as the first URL.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.URLFilter != nil {
		cfg.Client = filteredClient(cfg.Client, cfg.URLFilter)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	return &Resolver{
		limits:    cfg.Limits,
		client:    cfg.Client,
		timeout:   cfg.Timeout,
		urlFilter: cfg.URLFilter,
	}
}

func filteredClient(base *http.Client, filter URLChecker) *http.Client {
	c := *base
	next := base.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := filter.Check(req.URL.String()); err != nil {
			return err
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &c
}

// Limits returns the limit table the resolver enforces.
func (r *Resolver) Limits() Limits { return r.limits }

// Resolve returns a with its payload inline. Inline data is returned
// unchanged without any I/O. A URL is fetched with exactly one request.
// An attachment with neither fails with ErrMissingMediaData.
func (r *Resolver) Resolve(ctx context.Context, a message.Attachment) (message.Attachment, error) {
	if a.Type == message.AttachmentLocation || a.HasData() {
		return a, nil
	}
	if a.URL == "" {
		return a, ErrMissingMediaData
	}

	data, contentType, err := r.fetch(ctx, a.URL, r.limits.ceilingFor(a))
	if err != nil {
		return a, err
	}

	out := a.Clone()
	out.Data = data
	out.SizeBytes = int64(len(data))
	if out.MIMEType == "" {
		out.MIMEType = contentType
	}
	if out.MIMEType == "" || out.MIMEType == "application/octet-stream" {
		out.MIMEType = DetectMIME(data)
	}
	out.MIMEType = NormalizeMIME(out.MIMEType)
	if out.Filename == "" {
		out.Filename = FilenameFor(string(out.Type), out.MIMEType)
	}
	return out, nil
}

// ResolveAndCheck resolves a and validates it against the limits.
func (r *Resolver) ResolveAndCheck(ctx context.Context, a message.Attachment) (message.Attachment, error) {
	out, err := r.Resolve(ctx, a)
	if err != nil {
		return a, err
	}
	if err := r.limits.Check(out); err != nil {
		return a, err
	}
	return out, nil
}

// Fetch downloads rawURL with a single GET, bounded by the resolver timeout
// and the largest size ceiling.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	return r.fetch(ctx, rawURL, r.limits.MaxSize())
}

func (r *Resolver) fetch(ctx context.Context, rawURL string, ceiling int64) ([]byte, string, error) {
	if r.urlFilter != nil {
		if err := r.urlFilter.Check(rawURL); err != nil {
			return nil, "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("channel: build media request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", &TransportError{Op: "fetch media", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &TransportError{Op: "fetch media", Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if ceiling > 0 && resp.ContentLength > ceiling {
		return nil, "", fmt.Errorf("%w: %d bytes, limit %d", ErrMediaTooLarge, resp.ContentLength, ceiling)
	}

	var body io.Reader = resp.Body
	if ceiling > 0 {
		body = io.LimitReader(resp.Body, ceiling+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", &TransportError{Op: "read media", Cause: err}
	}
	if ceiling > 0 && int64(len(data)) > ceiling {
		return nil, "", fmt.Errorf("%w: exceeds %d bytes", ErrMediaTooLarge, ceiling)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
