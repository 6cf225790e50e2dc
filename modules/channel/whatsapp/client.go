package whatsapp

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// pairDisplayName is shown on the phone while a pairing code is pending.
// WhatsApp requires the "Browser (OS)" form.
const pairDisplayName = "Chrome (Linux)"

type platform struct {
	props waCompanionReg.DeviceProps_PlatformType
	pair  whatsmeow.PairClientType
}

var platforms = map[string]platform{
	"chrome":  {waCompanionReg.DeviceProps_CHROME, whatsmeow.PairClientChrome},
	"firefox": {waCompanionReg.DeviceProps_FIREFOX, whatsmeow.PairClientFirefox},
	"safari":  {waCompanionReg.DeviceProps_SAFARI, whatsmeow.PairClientSafari},
	"edge":    {waCompanionReg.DeviceProps_EDGE, whatsmeow.PairClientEdge},
	"desktop": {waCompanionReg.DeviceProps_DESKTOP, whatsmeow.PairClientElectron},
}

// transport is the subset of the whatsmeow client the driver uses.
type transport interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Logout(ctx context.Context) error

	QRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	PairPhone(ctx context.Context, phone string) (string, error)

	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	MarkRead(ctx context.Context, ids []types.MessageID, chat, sender types.JID) error
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error

	AddEventHandler(fn func(evt any))

	// HasSession reports whether the device is paired.
	HasSession() bool
	// OwnJID is the paired account, or the empty JID.
	OwnJID() types.JID
	// DeleteSession removes the stored device without contacting the server.
	DeleteSession(ctx context.Context) error
}

// meowClient adapts *whatsmeow.Client to transport.
type meowClient struct {
	c        *whatsmeow.Client
	pairType whatsmeow.PairClientType
}

var _ transport = (*meowClient)(nil)

// configureDeviceProps sets the companion identity shown under Linked
// Devices. whatsmeow keeps these in package state, so the last configured
// channel wins when several run in one process.
func configureDeviceProps(cfg *Config) {
	p := platforms[cfg.Platform]
	store.DeviceProps.PlatformType = p.props.Enum()
	store.DeviceProps.Os = proto.String(cfg.DeviceName)
}

func newMeowClient(dev *store.Device, cfg *Config, log waLog.Logger) *meowClient {
	c := whatsmeow.NewClient(dev, log)
	c.EnableAutoReconnect = *cfg.AutoReconnect
	c.AutoTrustIdentity = *cfg.AutoTrustIdentity
	return &meowClient{c: c, pairType: platforms[cfg.Platform].pair}
}

func (m *meowClient) Connect() error    { return m.c.Connect() }
func (m *meowClient) Disconnect()       { m.c.Disconnect() }
func (m *meowClient) IsConnected() bool { return m.c.IsConnected() }

func (m *meowClient) Logout(ctx context.Context) error { return m.c.Logout(ctx) }

func (m *meowClient) QRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return m.c.GetQRChannel(ctx)
}

func (m *meowClient) PairPhone(ctx context.Context, phone string) (string, error) {
	return m.c.PairPhone(ctx, phone, true, m.pairType, pairDisplayName)
}

func (m *meowClient) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (whatsmeow.SendResponse, error) {
	return m.c.SendMessage(ctx, to, msg)
}

func (m *meowClient) Upload(ctx context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return m.c.Upload(ctx, data, mt)
}

func (m *meowClient) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return m.c.Download(ctx, msg)
}

func (m *meowClient) MarkRead(ctx context.Context, ids []types.MessageID, chat, sender types.JID) error {
	return m.c.MarkRead(ctx, ids, time.Now(), chat, sender)
}

func (m *meowClient) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	return m.c.SendChatPresence(ctx, jid, state, media)
}

func (m *meowClient) AddEventHandler(fn func(evt any)) { m.c.AddEventHandler(fn) }

func (m *meowClient) HasSession() bool { return m.c.Store.ID != nil }

func (m *meowClient) OwnJID() types.JID {
	if m.c.Store.ID == nil {
		return types.EmptyJID
	}
	return m.c.Store.ID.ToNonAD()
}

func (m *meowClient) DeleteSession(ctx context.Context) error {
	return m.c.Store.Delete(ctx)
}
