package channel

import (
	"context"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// DefaultTypingInterval refreshes the indicator before providers expire it.
const DefaultTypingInterval = 8 * time.Second

// StartTypingLoop keeps a typing indicator visible for recipient until ctx
// is cancelled, then clears it. A non-positive interval selects
// DefaultTypingInterval.
func StartTypingLoop(ctx context.Context, a Adapter, recipient string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		on := message.TypingIndicator{RecipientID: recipient, IsTyping: true}
		_ = a.SendTypingIndicator(ctx, on)

		for {
			select {
			case <-ctx.Done():
				off := message.TypingIndicator{RecipientID: recipient}
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				_ = a.SendTypingIndicator(stopCtx, off)
				cancel()
				return
			case <-ticker.C:
				_ = a.SendTypingIndicator(ctx, on)
			}
		}
	}()
}
