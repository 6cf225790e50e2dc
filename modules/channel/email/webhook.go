package email

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/gateway"
	"github.com/flemzord/sbridge/pkg/message"
)

// formMemory is how much of a multipart post is kept in memory before
// files spill to disk.
const formMemory = 8 << 20

var (
	errInvalidSignature = fmt.Errorf("email: invalid webhook signature: %w", gateway.ErrInvalidSignature)
	errStale            = fmt.Errorf("email: webhook timestamp out of range: %w", gateway.ErrInvalidSignature)
)

// webhookReceiver implements gateway.WebhookHandler and
// gateway.WebhookBodyLimiter for one channel.
type webhookReceiver struct {
	signingKey string
	maxSkew    time.Duration
	maxBody    int
	now        func() time.Time
	onMail     func(inboundMail) error
	onEvent    func(event) error
}

// MaxWebhookBody implements gateway.WebhookBodyLimiter.
func (w *webhookReceiver) MaxWebhookBody() int { return w.maxBody }

// HandleWebhook accepts inbound mail as a form and delivery events as
// JSON.
func (w *webhookReceiver) HandleWebhook(_ context.Context, _ string, body []byte, headers http.Header) error {
	mt, params, _ := mime.ParseMediaType(headers.Get("Content-Type"))
	switch mt {
	case "application/json":
		var ev event
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("email: invalid event JSON: %w", err)
		}
		if err := w.verify(ev.Signature); err != nil {
			return err
		}
		return w.onEvent(ev)
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Errorf("email: invalid form: %w", err)
		}
		return w.deliver(inboundMail{fields: flatten(form)})
	case "multipart/form-data":
		in, err := parseMultipart(body, params["boundary"])
		if err != nil {
			return err
		}
		return w.deliver(in)
	default:
		return fmt.Errorf("email: unsupported content type %q", mt)
	}
}

func (w *webhookReceiver) deliver(in inboundMail) error {
	if err := w.verify(signature{
		Timestamp: in.get("timestamp"),
		Token:     in.get("token"),
		Signature: in.get("signature"),
	}); err != nil {
		return err
	}
	return w.onMail(in)
}

// verify checks the hex HMAC-SHA256 of timestamp+token and the timestamp
// window. Without a signing key every post is accepted.
func (w *webhookReceiver) verify(s signature) error {
	if w.signingKey == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(w.signingKey))
	mac.Write([]byte(s.Timestamp + s.Token))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(s.Signature))) {
		return errInvalidSignature
	}
	ts, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return errStale
	}
	if d := w.now().Sub(time.Unix(ts, 0)); d > w.maxSkew || d < -w.maxSkew {
		return errStale
	}
	return nil
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}

// parseMultipart reads a multipart route post. Files become attachments
// in the order of their attachment-N field names.
func parseMultipart(body []byte, boundary string) (inboundMail, error) {
	if boundary == "" {
		return inboundMail{}, fmt.Errorf("email: multipart post without boundary")
	}
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(formMemory)
	if err != nil {
		return inboundMail{}, fmt.Errorf("email: invalid multipart form: %w", err)
	}
	defer func() { _ = form.RemoveAll() }()

	in := inboundMail{fields: flatten(url.Values(form.Value))}
	n, _ := strconv.Atoi(in.get("attachment-count"))
	n = max(n, len(form.File))
	for i := 1; i <= n; i++ {
		files := form.File["attachment-"+strconv.Itoa(i)]
		if len(files) == 0 {
			continue
		}
		a, err := readAttachment(files[0])
		if err != nil {
			return inboundMail{}, err
		}
		in.attachments = append(in.attachments, a)
	}
	return in, nil
}

func readAttachment(fh *multipart.FileHeader) (message.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return message.Attachment{}, fmt.Errorf("email: open attachment %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return message.Attachment{}, fmt.Errorf("email: read attachment %s: %w", fh.Filename, err)
	}
	mimeType := channel.NormalizeMIME(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = channel.DetectMIME(data)
	}
	return message.Attachment{
		Type:      channel.ClassifyInbound(mimeType),
		Data:      data,
		MIMEType:  mimeType,
		SizeBytes: int64(len(data)),
		Filename:  fh.Filename,
	}, nil
}
