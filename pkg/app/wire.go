package app

import (
	"context"
	"log/slog"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/pkg/message"
)

// Handlers are installed on every channel adapter at startup.
type Handlers struct {
	Message    channel.MessageHandler
	Status     channel.StatusHandler
	Connection channel.ConnectionHandler
}

// wireHandlers installs h on every adapter in reg, filling nil handlers
// with ones that log and audit each event. It returns the number of
// adapters wired. Must be called after LoadModules and before Start so no
// event reaches an adapter without handlers.
func wireHandlers(reg *channel.Registry, h Handlers, logger *slog.Logger, audit *security.AuditLogger) int {
	names := reg.Names()
	for _, name := range names {
		a, ok := reg.Get(name)
		if !ok {
			continue
		}
		log := logger.With("channel", name)

		msgFn := h.Message
		if msgFn == nil {
			msgFn = logMessages(name, log, audit)
		}
		statusFn := h.Status
		if statusFn == nil {
			statusFn = logReceipts(log)
		}
		connFn := h.Connection
		if connFn == nil {
			connFn = logConnection(name, log, audit)
		}

		a.SetMessageHandler(msgFn)
		a.SetStatusHandler(statusFn)
		a.SetConnectionHandler(connFn)
		logger.Debug("channel handlers wired", "channel", name)
	}
	return len(names)
}

func logMessages(name string, logger *slog.Logger, audit *security.AuditLogger) channel.MessageHandler {
	return func(_ context.Context, msg message.InboundMessage) error {
		logger.Info("message received",
			"id", msg.ExternalID,
			"chat", msg.ChatID,
			"sender", msg.SenderID,
			"type", msg.ContentType,
			"attachments", len(msg.Attachments),
		)
		audit.Log(security.AuditEvent{
			Type:      security.EventMessage,
			Channel:   name,
			ChatID:    msg.ChatID,
			SenderID:  msg.SenderID,
			MessageID: msg.ExternalID,
		})
		return nil
	}
}

func logReceipts(logger *slog.Logger) channel.StatusHandler {
	return func(_ context.Context, r message.DeliveryReceipt) error {
		logger.Debug("receipt received", "type", r.Type, "chat", r.ChatID, "messages", r.MessageIDs)
		return nil
	}
}

func logConnection(name string, logger *slog.Logger, audit *security.AuditLogger) channel.ConnectionHandler {
	return func(_ context.Context, connected bool, reason string) error {
		event := security.AuditEvent{Type: security.EventDisconnect, Channel: name, Detail: reason}
		if connected {
			event.Type = security.EventConnect
			logger.Info("channel connected")
		} else {
			logger.Warn("channel disconnected", "reason", reason)
		}
		audit.Log(event)
		return nil
	}
}
