package channel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/channel/channeltest"
	"github.com/flemzord/sbridge/pkg/message"
)

const waitTimeout = 2 * time.Second

func newBase(t *testing.T, drv channel.Driver, mutate ...func(*channel.BaseConfig)) *channel.Base {
	t.Helper()
	cfg := channel.BaseConfig{
		Name:   "test",
		Driver: drv,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b := channel.NewBase(cfg)
	b.StartEvents()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func waitDone(t *testing.T, ls *channel.LoginSession) {
	t.Helper()
	select {
	case <-ls.Done():
	case <-time.After(waitTimeout):
		t.Fatal("login session did not finish")
	}
}

func TestBase_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)

	res := b.Send(context.Background(), message.NewTextMessage("bob", "hi"))
	if res.Success || res.Status != message.StatusFailed || res.Error != "not connected" {
		t.Fatalf("result = %+v, want failed not connected", res)
	}
	if len(drv.Sent()) != 0 {
		t.Error("transport must not be called while disconnected")
	}
}

func TestBase_ConnectAndSend(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	rec := channeltest.NewRecorder(b)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if b.State() != channel.StateConnected {
		t.Fatalf("state = %s", b.State())
	}
	st := b.ConnectionStatus()
	if !st.Connected || st.Status != "connected" || st.LastConnect.IsZero() {
		t.Errorf("status = %+v", st)
	}

	res := b.Send(context.Background(), message.NewTextMessage("bob", "hello"))
	if !res.Success || res.ExternalID == "" || res.Status != message.StatusSent {
		t.Fatalf("result = %+v", res)
	}

	ok := rec.WaitFor(waitTimeout, func(r *channeltest.Recorder) bool {
		return len(r.Connections()) == 1
	})
	if !ok || !rec.Connections()[0].Connected {
		t.Fatalf("connections = %+v", rec.Connections())
	}

	// Connect again is a no-op.
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if dials, _, _ := drv.Counts(); dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestBase_ConnectWhileConnecting(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.ManualConfirm = true
	b := newBase(t, drv)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if b.State() != channel.StateConnecting {
		t.Fatalf("state = %s, want connecting", b.State())
	}
	if err := b.Connect(context.Background()); !errors.Is(err, channel.ErrAlreadyConnecting) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnecting", err)
	}
	drv.Confirm()
	if b.State() != channel.StateConnected {
		t.Fatalf("state = %s after confirm", b.State())
	}
}

func TestBase_ConnectFailure(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.DialErr = errors.New("refused")
	b := newBase(t, drv)

	err := b.Connect(context.Background())
	var cf *channel.ConnectFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("Connect = %v, want ConnectFailedError", err)
	}
	if b.State() != channel.StateDisconnected {
		t.Errorf("state = %s", b.State())
	}
	if b.ConnectionStatus().Error != "refused" {
		t.Errorf("status error = %q", b.ConnectionStatus().Error)
	}
}

func TestBase_NoDriver(t *testing.T) {
	t.Parallel()

	b := newBase(t, nil)
	if err := b.Connect(context.Background()); !errors.Is(err, channel.ErrTransportUnavailable) {
		t.Fatalf("Connect = %v, want ErrTransportUnavailable", err)
	}
}

func TestBase_InteractiveLoginSuccess(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.SetSession(false)
	drv.LoginFunc = func(ctx context.Context, mode channel.LoginMode, _ string, sink channel.LoginSink) error {
		sink.Challenge("2@qr-payload", time.Minute)
		return nil
	}
	b := newBase(t, drv)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if b.State() != channel.StateAwaitingAuth {
		t.Fatalf("state = %s, want awaiting auth", b.State())
	}

	ls, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, "")
	if err != nil {
		t.Fatalf("BeginInteractiveLogin: %v", err)
	}
	waitDone(t, ls)

	if ls.Err() != nil {
		t.Fatalf("login err = %v", ls.Err())
	}
	if b.State() != channel.StateConnected {
		t.Fatalf("state = %s, want connected", b.State())
	}
	c, ok := ls.Current()
	if !ok || c.Code != "2@qr-payload" || c.Kind != channel.LoginQR {
		t.Errorf("challenge = %+v", c)
	}
}

func TestBase_LoginExpiryIgnoresLateSuccess(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.SetSession(false)
	sinks := make(chan channel.LoginSink, 1)
	drv.LoginFunc = func(ctx context.Context, _ channel.LoginMode, _ string, sink channel.LoginSink) error {
		sink.Challenge("qr", 30*time.Millisecond)
		sinks <- sink
		<-ctx.Done()
		return ctx.Err()
	}
	b := newBase(t, drv)

	ls, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, "")
	if err != nil {
		t.Fatalf("BeginInteractiveLogin: %v", err)
	}
	waitDone(t, ls)

	if !errors.Is(ls.Err(), channel.ErrChallengeExpired) {
		t.Fatalf("Err = %v, want ErrChallengeExpired", ls.Err())
	}
	if b.State() != channel.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", b.State())
	}

	sink := <-sinks
	if sink.Succeed() {
		t.Error("late success must be rejected")
	}
	if b.State() != channel.StateDisconnected {
		t.Errorf("late success changed state to %s", b.State())
	}
}

func TestBase_LoginRejectedWhenAuthenticated(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)

	// Stored session while disconnected.
	if _, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, ""); !errors.Is(err, channel.ErrAlreadyAuthenticated) {
		t.Fatalf("err = %v, want ErrAlreadyAuthenticated", err)
	}

	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, ""); !errors.Is(err, channel.ErrAlreadyAuthenticated) {
		t.Fatalf("err = %v, want ErrAlreadyAuthenticated", err)
	}
}

func TestBase_LoginRejectedWhileConnecting(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.ManualConfirm = true
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, ""); !errors.Is(err, channel.ErrClientNotReady) {
		t.Fatalf("err = %v, want ErrClientNotReady", err)
	}
}

func TestBase_DisconnectTearsDownLogin(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.SetSession(false)
	b := newBase(t, drv)

	ls, err := b.BeginInteractiveLogin(context.Background(), channel.LoginPairCode, "5511999999999")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case <-ls.Done():
	default:
		t.Fatal("login should be finished when Disconnect returns")
	}
	if !errors.Is(ls.Err(), channel.ErrLoginCancelled) {
		t.Errorf("Err = %v, want ErrLoginCancelled", ls.Err())
	}
	if b.State() != channel.StateDisconnected {
		t.Errorf("state = %s", b.State())
	}
	if b.CurrentLogin() != nil {
		t.Error("login should be cleared")
	}
}

func TestBase_NewLoginSupersedesPrevious(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.SetSession(false)
	b := newBase(t, drv)

	first, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.BeginInteractiveLogin(context.Background(), channel.LoginQR, "")
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, first)

	if !errors.Is(first.Err(), channel.ErrLoginCancelled) {
		t.Errorf("first Err = %v", first.Err())
	}
	if b.State() != channel.StateAwaitingAuth {
		t.Errorf("state = %s, want awaiting auth", b.State())
	}
	if b.CurrentLogin() != second {
		t.Error("second login should be current")
	}
}

func TestBase_LogoutIdempotent(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	rec := channeltest.NewRecorder(b)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := b.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if b.State() != channel.StateLoggedOut {
		t.Fatalf("state = %s", b.State())
	}
	if _, _, destroys := drv.Counts(); destroys != 1 {
		t.Errorf("destroys = %d, want 1", destroys)
	}
	if drv.HasSession() {
		t.Error("session should be invalidated")
	}

	ok := rec.WaitFor(waitTimeout, func(r *channeltest.Recorder) bool {
		cs := r.Connections()
		return len(cs) == 2 && strings.HasPrefix(cs[1].Reason, "logged out")
	})
	if !ok {
		t.Errorf("connections = %+v", rec.Connections())
	}
}

func TestBase_RemoteRevoke(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	rec := channeltest.NewRecorder(b)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	drv.Sink().OnLoggedOut("device removed")

	if b.State() != channel.StateLoggedOut {
		t.Fatalf("state = %s", b.State())
	}
	ok := rec.WaitFor(waitTimeout, func(r *channeltest.Recorder) bool {
		cs := r.Connections()
		return len(cs) == 2 && cs[1].Reason == "logged out: device removed" && !cs[1].Connected
	})
	if !ok {
		t.Errorf("connections = %+v", rec.Connections())
	}
}

func TestBase_TransportLostAndReconnect(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	drv.Sink().OnDisconnected("stream error")
	if b.State() != channel.StateDisconnected {
		t.Fatalf("state = %s", b.State())
	}
	if b.ConnectionStatus().Error != "stream error" {
		t.Errorf("status error = %q", b.ConnectionStatus().Error)
	}

	// Transport reconnects by itself.
	drv.Sink().OnConnected()
	if b.State() != channel.StateConnected {
		t.Fatalf("state = %s after reconnect", b.State())
	}

	// After an explicit disconnect a stray confirmation is ignored.
	if err := b.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	drv.Sink().OnConnected()
	if b.State() != channel.StateDisconnected {
		t.Errorf("state = %s, want disconnected", b.State())
	}
}

func TestBase_LifecycleSequences(t *testing.T) {
	t.Parallel()

	type op func(context.Context, *channel.Base) error
	connect := func(ctx context.Context, b *channel.Base) error { return b.Connect(ctx) }
	disconnect := func(ctx context.Context, b *channel.Base) error { return b.Disconnect(ctx) }
	logout := func(ctx context.Context, b *channel.Base) error { return b.Logout(ctx) }

	tests := []struct {
		name    string
		session bool
		ops     []op
		want    channel.State
	}{
		{"connect", true, []op{connect}, channel.StateConnected},
		{"connect disconnect", true, []op{connect, disconnect}, channel.StateDisconnected},
		{"disconnect only", true, []op{disconnect, disconnect}, channel.StateDisconnected},
		{"connect logout", true, []op{connect, logout}, channel.StateLoggedOut},
		{"logout while disconnected", true, []op{logout}, channel.StateLoggedOut},
		{"logout then connect", true, []op{connect, logout, connect}, channel.StateAwaitingAuth},
		{"no session connect", false, []op{connect}, channel.StateAwaitingAuth},
		{"no session connect disconnect", false, []op{connect, disconnect}, channel.StateDisconnected},
		{"reconnect", true, []op{connect, disconnect, connect}, channel.StateConnected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for range 3 {
				drv := channeltest.NewFakeDriver()
				drv.SetSession(tc.session)
				b := newBase(t, drv)
				for _, o := range tc.ops {
					_ = o(context.Background(), b)
				}
				if b.State() != tc.want {
					t.Fatalf("state = %s, want %s", b.State(), tc.want)
				}
			}
		})
	}
}

func TestBase_SessionLease(t *testing.T) {
	t.Parallel()

	locker := channel.NewMemoryLocker()
	withLocker := func(owner string) func(*channel.BaseConfig) {
		return func(c *channel.BaseConfig) {
			c.Locker = locker
			c.Owner = owner
		}
	}
	a := newBase(t, channeltest.NewFakeDriver(), withLocker("a"))
	b := newBase(t, channeltest.NewFakeDriver(), withLocker("b"))

	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, channel.ErrSessionLocked) {
		t.Fatalf("second owner Connect = %v, want ErrSessionLocked", err)
	}
	if b.State() != channel.StateDisconnected {
		t.Errorf("locked out adapter state = %s", b.State())
	}

	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if owner, held := locker.Owner("test"); held {
		t.Fatalf("lease still held by %s", owner)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after release: %v", err)
	}
}

func TestBase_AllowListFiltersInbound(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv, func(c *channel.BaseConfig) {
		c.AllowList = channel.NewAllowList([]string{"alice"}, nil)
	})
	rec := channeltest.NewRecorder(b)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	drv.Sink().OnMessage(message.InboundMessage{ExternalID: "1", SenderID: "mallory", ChatID: "mallory", Content: "x"})
	drv.Sink().OnMessage(message.InboundMessage{ExternalID: "2", SenderID: "alice", ChatID: "alice", Content: "hi"})

	ok := rec.WaitFor(waitTimeout, func(r *channeltest.Recorder) bool { return len(r.Messages()) >= 1 })
	if !ok {
		t.Fatal("no message delivered")
	}
	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].ExternalID != "2" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Channel != "test" {
		t.Errorf("channel = %q, want test", msgs[0].Channel)
	}
}

func TestBase_ReceiptBatch(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	rec := channeltest.NewRecorder(b)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	drv.Sink().OnReceipt(channel.NewReceipt([]string{"m1", "m2", "m3"}, "chat", "bob", "read", time.Now()))

	ok := rec.WaitFor(waitTimeout, func(r *channeltest.Recorder) bool { return len(r.Receipts()) == 1 })
	if !ok {
		t.Fatal("receipt not delivered")
	}
	r := rec.Receipts()[0]
	if len(r.MessageIDs) != 3 || r.MessageID() != "m1" || r.Type != message.ReceiptRead {
		t.Errorf("receipt = %+v", r)
	}
}

func TestBase_SendSplitsLongText(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	caps := drv.Capabilities()
	caps.MaxMessageLength = 10
	drv.SetCapabilities(caps)
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	res := b.Send(context.Background(), message.NewTextMessage("bob", strings.Repeat("a", 25)))
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if n := len(drv.Sent()); n != 3 {
		t.Errorf("parts sent = %d, want 3", n)
	}
}

func TestBase_SendValidationAndMediaFailures(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		msg     message.OutboundMessage
		errPart string
	}{
		{
			name:    "empty text",
			msg:     message.NewTextMessage("bob", ""),
			errPart: "missing content",
		},
		{
			name: "image without data",
			msg: message.OutboundMessage{
				RecipientID: "bob",
				ContentType: message.ContentImage,
				Attachments: []message.Attachment{{Type: message.AttachmentImage}},
			},
			errPart: "no data or url",
		},
		{
			name: "image too large",
			msg: message.OutboundMessage{
				RecipientID: "bob",
				ContentType: message.ContentImage,
				Attachments: []message.Attachment{{
					Type:     message.AttachmentImage,
					MIMEType: "image/jpeg",
					Data:     make([]byte, 6*1024*1024),
				}},
			},
			errPart: "too large",
		},
		{
			name: "media resolved before the message is validated",
			msg: message.OutboundMessage{
				ContentType: message.ContentImage,
				Attachments: []message.Attachment{{Type: message.AttachmentImage}},
			},
			errPart: "no data or url",
		},
	}
	for _, tc := range tests {
		res := b.Send(context.Background(), tc.msg)
		if res.Success || !strings.Contains(res.Error, tc.errPart) {
			t.Errorf("%s: result = %+v, want error containing %q", tc.name, res, tc.errPart)
		}
	}
	if len(drv.Sent()) != 0 {
		t.Errorf("transport called %d times for invalid messages", len(drv.Sent()))
	}
}

func TestBase_SendTransportError(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	drv.SendFunc = func(context.Context, message.OutboundMessage) (message.SendResult, error) {
		return message.SendResult{}, errors.New("socket closed")
	}
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	res := b.Send(context.Background(), message.NewTextMessage("bob", "hi"))
	if res.Success || !strings.Contains(res.Error, "socket closed") {
		t.Fatalf("result = %+v", res)
	}
}

func TestBase_URLPassthroughChecksDeclaredMedia(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		att     message.Attachment
		errPart string
	}{
		{
			name: "unsupported declared mime",
			att: message.Attachment{
				Type:      message.AttachmentImage,
				URL:       "https://cdn.example.com/anim.gif",
				MIMEType:  "image/gif",
				SizeBytes: 500 * 1024 * 1024,
			},
			errPart: "unsupported",
		},
		{
			name: "declared size over the ceiling",
			att: message.Attachment{
				Type:      message.AttachmentImage,
				URL:       "https://cdn.example.com/big.jpg",
				MIMEType:  "image/jpeg",
				SizeBytes: 500 * 1024 * 1024,
			},
			errPart: "too large",
		},
		{
			name: "size only",
			att: message.Attachment{
				Type:      message.AttachmentVideo,
				URL:       "https://cdn.example.com/clip",
				SizeBytes: 500 * 1024 * 1024,
			},
			errPart: "too large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			drv := channeltest.NewFakeDriver()
			caps := drv.Capabilities()
			caps.Limits = channel.InstagramLimits
			caps.AcceptsMediaURL = true
			caps.ContentTypes = append(caps.ContentTypes, message.ContentVideo)
			drv.SetCapabilities(caps)
			b := newBase(t, drv)
			if err := b.Connect(context.Background()); err != nil {
				t.Fatal(err)
			}

			res := b.Send(context.Background(), message.OutboundMessage{
				RecipientID: "bob",
				ContentType: message.ContentImage,
				Attachments: []message.Attachment{tt.att},
			})
			if res.Success || !strings.Contains(res.Error, tt.errPart) {
				t.Fatalf("result = %+v, want error containing %q", res, tt.errPart)
			}
			if n := len(drv.Sent()); n != 0 {
				t.Errorf("transport called %d times", n)
			}
		})
	}

	drv := channeltest.NewFakeDriver()
	caps := drv.Capabilities()
	caps.Limits = channel.InstagramLimits
	caps.AcceptsMediaURL = true
	drv.SetCapabilities(caps)
	b := newBase(t, drv)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	res := b.Send(context.Background(), message.OutboundMessage{
		RecipientID: "bob",
		ContentType: message.ContentImage,
		Attachments: []message.Attachment{{Type: message.AttachmentImage, URL: "https://cdn.example.com/ok.jpg", MIMEType: "image/jpeg"}},
	})
	if !res.Success {
		t.Fatalf("accepted url = %+v", res)
	}
	if sent := drv.Sent(); len(sent) != 1 || sent[0].Attachments[0].HasData() {
		t.Errorf("url attachment should pass through without download: %+v", sent)
	}
}

func TestBase_DisconnectDuringSend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// inFlight is what the blocked transport call returns once the
		// connection is closed under it.
		inFlight func() (message.SendResult, error)
		errPart  string
	}{
		{
			name: "in-flight part fails",
			inFlight: func() (message.SendResult, error) {
				return message.SendResult{}, errors.New("connection closed")
			},
			errPart: "connection closed",
		},
		{
			name: "remaining parts are dropped",
			inFlight: func() (message.SendResult, error) {
				return message.SentResult("p1", time.Now()), nil
			},
			errPart: "not connected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			entered := make(chan struct{})
			closed := make(chan struct{})
			var enterOnce, closeOnce sync.Once
			var calls atomic.Int32

			drv := channeltest.NewFakeDriver()
			caps := drv.Capabilities()
			caps.MaxMessageLength = 10
			drv.SetCapabilities(caps)
			drv.CloseFunc = func(context.Context) error {
				closeOnce.Do(func() { close(closed) })
				return nil
			}
			drv.SendFunc = func(ctx context.Context, _ message.OutboundMessage) (message.SendResult, error) {
				calls.Add(1)
				enterOnce.Do(func() { close(entered) })
				select {
				case <-closed:
					return tt.inFlight()
				case <-ctx.Done():
					return message.SendResult{}, ctx.Err()
				}
			}
			b := newBase(t, drv)
			if err := b.Connect(context.Background()); err != nil {
				t.Fatal(err)
			}

			done := make(chan message.SendResult, 1)
			go func() {
				done <- b.Send(context.Background(), message.NewTextMessage("bob", strings.Repeat("a", 25)))
			}()

			select {
			case <-entered:
			case <-time.After(waitTimeout):
				t.Fatal("send never reached the transport")
			}
			if err := b.Disconnect(context.Background()); err != nil {
				t.Fatalf("Disconnect: %v", err)
			}

			select {
			case res := <-done:
				if res.Success || res.Status != message.StatusFailed || !strings.Contains(res.Error, tt.errPart) {
					t.Errorf("result = %+v, want failure containing %q", res, tt.errPart)
				}
			case <-time.After(waitTimeout):
				t.Fatal("send hung after disconnect")
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("transport calls = %d, want 1", n)
			}
			if b.State() != channel.StateDisconnected {
				t.Errorf("state = %s, want disconnected", b.State())
			}
		})
	}
}

func TestBase_OptionalOperations(t *testing.T) {
	t.Parallel()

	drv := channeltest.NewFakeDriver()
	b := newBase(t, drv)

	ctx := context.Background()
	if err := b.SendTypingIndicator(ctx, message.TypingIndicator{RecipientID: "bob", IsTyping: true}); !errors.Is(err, channel.ErrClientNotReady) {
		t.Fatalf("typing while disconnected = %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	if err := b.SendTypingIndicator(ctx, message.TypingIndicator{RecipientID: "bob", IsTyping: true}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := b.SendReadReceipt(ctx, message.ReadReceipt{RecipientID: "bob", MessageID: "m1"}); err != nil {
		t.Fatalf("read receipt: %v", err)
	}
	if len(drv.Typing()) != 1 || len(drv.Reads()) != 1 {
		t.Errorf("typing=%d reads=%d", len(drv.Typing()), len(drv.Reads()))
	}

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	up, err := b.UploadMedia(ctx, message.Media{Data: png})
	if err != nil || !up.Success {
		t.Fatalf("upload = %+v, %v", up, err)
	}

	got, err := b.DownloadMedia(ctx, up.MediaID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got.MIMEType != "image/png" || got.Filename != up.MediaID+".png" || got.Size != int64(len(png)) {
		t.Errorf("media = %+v", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := channel.NewRegistry()
	a := newBase(t, channeltest.NewFakeDriver())
	if err := r.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(a); !errors.Is(err, channel.ErrDuplicateChannel) {
		t.Fatalf("duplicate Register = %v", err)
	}

	res := r.Send(context.Background(), "missing", message.NewTextMessage("bob", "hi"))
	if res.Success || !strings.Contains(res.Error, "unknown channel") {
		t.Errorf("unknown channel result = %+v", res)
	}

	if names := r.Names(); len(names) != 1 || names[0] != "test" {
		t.Errorf("names = %v", names)
	}
	if st := r.Statuses()["test"]; st.Connected {
		t.Errorf("status = %+v", st)
	}
	r.Unregister("test")
	if _, ok := r.Get("test"); ok {
		t.Error("Get after Unregister should fail")
	}
}
