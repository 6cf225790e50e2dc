package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LoginMode selects how an interactive login is performed.
type LoginMode string

const (
	// LoginQR shows a QR code the user scans from the phone app.
	LoginQR LoginMode = "qr"
	// LoginPairCode shows a short code the user types on the phone.
	LoginPairCode LoginMode = "pair_code"
)

// Default challenge lifetimes.
const (
	DefaultQRExpiry       = 60 * time.Second
	DefaultPairCodeExpiry = 300 * time.Second
)

// ParseLoginMode validates a mode string. An empty string selects LoginQR.
func ParseLoginMode(s string) (LoginMode, error) {
	switch LoginMode(s) {
	case "", LoginQR:
		return LoginQR, nil
	case LoginPairCode:
		return LoginPairCode, nil
	default:
		return "", fmt.Errorf("channel: unknown login mode %q", s)
	}
}

func (m LoginMode) defaultExpiry() time.Duration {
	if m == LoginPairCode {
		return DefaultPairCodeExpiry
	}
	return DefaultQRExpiry
}

// Challenge is one QR code or pairing code presented to the user.
type Challenge struct {
	Kind      LoginMode `json:"kind"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Seq       int       `json:"seq"`
}

// Expired reports whether the challenge is past its expiry.
func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// LoginSink receives progress from a driver running an interactive login.
type LoginSink interface {
	// Challenge publishes a new code, superseding the previous one. A ttl
	// <= 0 selects the mode default.
	Challenge(code string, ttl time.Duration)
	// Succeed completes the login. It reports false when the session had
	// already ended, in which case the success must be discarded.
	Succeed() bool
	// Fail ends the login with err.
	Fail(err error)
}

// LoginSession tracks one interactive login attempt. It is created by
// BeginInteractiveLogin and ends exactly once: on success, on challenge
// expiry, on cancellation, or on driver failure.
type LoginSession struct {
	mode  LoginMode
	phone string

	ctx    context.Context
	cancel context.CancelFunc

	challenges chan Challenge
	done       chan struct{}
	taskDone   chan struct{}
	started    atomic.Bool

	mu       sync.Mutex
	seq      int
	current  Challenge
	timer    *time.Timer
	finished bool
	err      error

	onFinish    func(ls *LoginSession, err error)
	onChallenge func(c Challenge)
}

func newLoginSession(parent context.Context, mode LoginMode, phone string) *LoginSession {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &LoginSession{
		mode:       mode,
		phone:      phone,
		ctx:        ctx,
		cancel:     cancel,
		challenges: make(chan Challenge, 1),
		done:       make(chan struct{}),
		taskDone:   make(chan struct{}),
	}
}

// Mode returns the login mode.
func (s *LoginSession) Mode() LoginMode { return s.mode }

// Challenges yields each new challenge. Only the newest unread challenge is
// kept; older ones are discarded.
func (s *LoginSession) Challenges() <-chan Challenge { return s.challenges }

// Done is closed when the session has ended.
func (s *LoginSession) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil on success, ErrChallengeExpired,
// ErrLoginCancelled or a driver error. It is nil while the session runs.
func (s *LoginSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Current returns the latest challenge, if any.
func (s *LoginSession) Current() (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.seq > 0
}

// Cancel ends the session with ErrLoginCancelled.
func (s *LoginSession) Cancel() {
	s.finish(ErrLoginCancelled)
}

// Wait blocks until the session ends or ctx expires.
func (s *LoginSession) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Challenge implements LoginSink.
func (s *LoginSession) Challenge(code string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.mode.defaultExpiry()
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	c := Challenge{
		Kind:      s.mode,
		Code:      code,
		ExpiresAt: time.Now().Add(ttl),
		Seq:       seq,
	}
	s.current = c
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(ttl, func() { s.expire(seq) })
	notify := s.onChallenge
	s.mu.Unlock()

	// Newest wins: replace an unread challenge.
	for {
		select {
		case s.challenges <- c:
			if notify != nil {
				notify(c)
			}
			return
		default:
		}
		select {
		case <-s.challenges:
		default:
		}
	}
}

// Succeed implements LoginSink.
func (s *LoginSession) Succeed() bool {
	return s.finish(nil)
}

// Fail implements LoginSink.
func (s *LoginSession) Fail(err error) {
	if err == nil {
		err = ErrLoginCancelled
	}
	s.finish(err)
}

func (s *LoginSession) expire(seq int) {
	s.mu.Lock()
	stale := s.seq != seq
	s.mu.Unlock()
	if stale {
		return
	}
	s.finish(ErrChallengeExpired)
}

// finish ends the session once. The finish callback runs before Done is
// closed so observers see the committed state.
func (s *LoginSession) finish(err error) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	s.err = err
	if s.timer != nil {
		s.timer.Stop()
	}
	cb := s.onFinish
	s.mu.Unlock()

	s.cancel()
	if cb != nil {
		cb(s, err)
	}
	close(s.done)
	return true
}

// abort cancels the session and waits for the driver task to return.
func (s *LoginSession) abort(ctx context.Context) error {
	s.finish(ErrLoginCancelled)
	// Claim the task slot so a session that never ran has nothing to wait on.
	if s.started.CompareAndSwap(false, true) {
		close(s.taskDone)
	}
	select {
	case <-s.taskDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the driver login on its own goroutine.
func (s *LoginSession) run(d InteractiveDriver) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.taskDone)
		err := d.RunLogin(s.ctx, s.mode, s.phone, s)
		if err != nil {
			s.Fail(err)
			return
		}
		s.Succeed()
	}()
}
