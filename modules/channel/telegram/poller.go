package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxConsecutivePollingErrors = 5
	errorPauseDuration          = 30 * time.Second
)

// updateSource is the part of Client the poller needs.
type updateSource interface {
	GetUpdates(ctx context.Context, cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// poller implements long-polling for receiving Telegram updates.
type poller struct {
	source  updateSource
	handle  func(*tgbotapi.Update)
	revoked func(reason string)
	logger  *slog.Logger
	timeout int
	allowed []string
	pause   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newPoller(source updateSource, cfg *Config, logger *slog.Logger, handle func(*tgbotapi.Update), revoked func(string)) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &poller{
		source:  source,
		handle:  handle,
		revoked: revoked,
		logger:  logger,
		timeout: cfg.PollingTimeout,
		allowed: cfg.AllowedUpdates,
		pause:   errorPauseDuration,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// start launches the polling loop in a goroutine.
func (p *poller) start() {
	go p.loop()
}

// stop signals the polling loop to stop and waits for it to finish.
// It is safe to call stop multiple times.
func (p *poller) stop() {
	p.stopOnce.Do(p.cancel)
	<-p.done
}

func (p *poller) loop() {
	defer close(p.done)

	var offset int
	var consecutiveErrors int

	for p.ctx.Err() == nil {
		updates, err := p.source.GetUpdates(p.ctx, tgbotapi.UpdateConfig{
			Offset:         offset,
			Timeout:        p.timeout,
			AllowedUpdates: p.allowed,
		})
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
				p.logger.Error("bot token rejected, polling stopped", "error", err)
				p.revoked(apiErr.Message)
				return
			}

			consecutiveErrors++
			p.logger.Error("polling getUpdates failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)
			if consecutiveErrors >= maxConsecutivePollingErrors {
				p.logger.Warn("polling paused after consecutive errors", "pause", p.pause)
				if sleepCtx(p.ctx, p.pause) != nil {
					return
				}
				consecutiveErrors = 0
			}
			continue
		}

		consecutiveErrors = 0
		for i := range updates {
			if updates[i].UpdateID < offset {
				continue
			}
			offset = updates[i].UpdateID + 1
			p.handle(&updates[i])
		}
	}
}
