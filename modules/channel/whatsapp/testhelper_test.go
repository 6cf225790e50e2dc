package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

// fakeTransport is an in-memory transport. Connect emits events.Connected
// when paired.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	paired    bool
	own       types.JID
	handlers  []func(any)

	qr        chan whatsmeow.QRChannelItem
	pairCode  string
	pairPhone string

	sent      []sentMessage
	uploads   [][]byte
	downloads []whatsmeow.DownloadableMessage
	presence  []types.ChatPresence
	reads     []types.MessageID
	readChat  types.JID
	readFrom  types.JID

	connects, logouts, deletes int
	connectErr                 error
	sendErr                    error
}

var _ transport = (*fakeTransport)(nil)

func newFakeTransport(paired bool) *fakeTransport {
	return &fakeTransport{
		paired:   paired,
		own:      types.NewJID("15550000000", types.DefaultUserServer),
		qr:       make(chan whatsmeow.QRChannelItem, 8),
		pairCode: "ABCD-EFGH",
	}
}

func (f *fakeTransport) emit(evt any) {
	f.mu.Lock()
	hs := append([]func(any){}, f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	f.connects++
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	f.connected = true
	paired := f.paired
	f.mu.Unlock()
	if paired {
		f.emit(&events.Connected{})
	}
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.paired = false
	f.connected = false
	return nil
}

func (f *fakeTransport) QRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return f.qr, nil
}

func (f *fakeTransport) PairPhone(_ context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairPhone = phone
	return f.pairCode, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, to types.JID, msg *waE2E.Message) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: msg})
	return whatsmeow.SendResponse{
		ID:        types.MessageID(fmt.Sprintf("3EB0%02d", len(f.sent))),
		Timestamp: time.Unix(1700000000, 0),
	}, nil
}

func (f *fakeTransport) Upload(_ context.Context, data []byte, _ whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, data)
	return whatsmeow.UploadResponse{
		URL:           "https://mmg.whatsapp.net/d/f/abc.enc",
		DirectPath:    "/v/t62/abc.enc",
		MediaKey:      []byte("key"),
		FileEncSHA256: []byte("enc"),
		FileSHA256:    []byte("sha"),
		FileLength:    uint64(len(data)),
	}, nil
}

func (f *fakeTransport) Download(_ context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, msg)
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (f *fakeTransport) MarkRead(_ context.Context, ids []types.MessageID, chat, sender types.JID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, ids...)
	f.readChat = chat
	f.readFrom = sender
	return nil
}

func (f *fakeTransport) SendChatPresence(_ context.Context, _ types.JID, state types.ChatPresence, _ types.ChatPresenceMedia) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, state)
	return nil
}

func (f *fakeTransport) AddEventHandler(fn func(evt any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

func (f *fakeTransport) HasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paired
}

func (f *fakeTransport) OwnJID() types.JID { return f.own }

func (f *fakeTransport) DeleteSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	f.paired = false
	return nil
}

func (f *fakeTransport) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// newTestDriver returns a driver whose factory hands out transports from
// the given list, one per call.
func newTestDriver(cfg *Config, ts ...*fakeTransport) (*driver, *int) {
	calls := 0
	var mu sync.Mutex
	factory := func(context.Context) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		t := ts[min(calls, len(ts)-1)]
		calls++
		return t, nil
	}
	return newDriver(cfg, discardLogger(), factory), &calls
}

func testConfig() *Config {
	cfg := &Config{ChannelID: "wa-test"}
	cfg.defaults("/tmp/sbridge")
	return cfg
}

// sinkRecorder implements channel.Sink.
type sinkRecorder struct {
	mu         sync.Mutex
	connected  int
	disconnect []string
	loggedOut  []string
	messages   []message.InboundMessage
	receipts   []message.DeliveryReceipt
	presence   []channel.PresenceEvent
}

var _ channel.Sink = (*sinkRecorder)(nil)

func (s *sinkRecorder) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
}

func (s *sinkRecorder) OnDisconnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnect = append(s.disconnect, reason)
}

func (s *sinkRecorder) OnLoggedOut(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = append(s.loggedOut, reason)
}

func (s *sinkRecorder) OnMessage(msg message.InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *sinkRecorder) OnReceipt(r message.DeliveryReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
}

func (s *sinkRecorder) OnPresence(ev channel.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, ev)
}

// loginRecorder implements channel.LoginSink.
type loginRecorder struct {
	mu         sync.Mutex
	challenges []string
	ttls       []time.Duration
	seen       chan struct{}
}

func newLoginRecorder() *loginRecorder {
	return &loginRecorder{seen: make(chan struct{}, 8)}
}

func (l *loginRecorder) Challenge(code string, ttl time.Duration) {
	l.mu.Lock()
	l.challenges = append(l.challenges, code)
	l.ttls = append(l.ttls, ttl)
	l.mu.Unlock()
	l.seen <- struct{}{}
}

func (l *loginRecorder) Succeed() bool { return true }
func (l *loginRecorder) Fail(error)    {}

func (l *loginRecorder) codes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.challenges...)
}
