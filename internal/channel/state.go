package channel

import (
	"sync/atomic"
	"time"
)

// State is the connection lifecycle state of one adapter.
type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateConnected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_interactive_auth"
	case StateConnected:
		return "connected"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerDialWithSession Trigger = iota
	TriggerDialNoSession
	TriggerChallengeAccepted
	TriggerChallengeExpired
	TriggerLoginCancelled
	TriggerTransportConfirmed
	TriggerTransportRejected
	TriggerTransportLost
	TriggerDisconnect
	TriggerLogout
	TriggerRemoteRevoke
)

var triggerNames = [...]string{
	TriggerDialWithSession:    "dial_with_session",
	TriggerDialNoSession:      "dial_no_session",
	TriggerChallengeAccepted:  "challenge_accepted",
	TriggerChallengeExpired:   "challenge_expired",
	TriggerLoginCancelled:     "login_cancelled",
	TriggerTransportConfirmed: "transport_confirmed",
	TriggerTransportRejected:  "transport_rejected",
	TriggerTransportLost:      "transport_lost",
	TriggerDisconnect:         "disconnect",
	TriggerLogout:             "logout",
	TriggerRemoteRevoke:       "remote_revoke",
}

func (t Trigger) String() string {
	if int(t) >= 0 && int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return "unknown"
}

type edge struct {
	from    State
	trigger Trigger
}

// transitions is the complete lifecycle table. Pairs absent from it are
// rejected and leave the state untouched.
var transitions = map[edge]State{
	{StateDisconnected, TriggerDialWithSession}: StateConnecting,
	{StateDisconnected, TriggerDialNoSession}:   StateAwaitingAuth,
	{StateLoggedOut, TriggerDialWithSession}:    StateConnecting,
	{StateLoggedOut, TriggerDialNoSession}:      StateAwaitingAuth,

	{StateAwaitingAuth, TriggerChallengeAccepted}: StateConnected,
	{StateAwaitingAuth, TriggerChallengeExpired}:  StateDisconnected,
	{StateAwaitingAuth, TriggerLoginCancelled}:    StateDisconnected,
	{StateAwaitingAuth, TriggerTransportRejected}: StateDisconnected,
	{StateAwaitingAuth, TriggerDisconnect}:        StateDisconnected,
	{StateAwaitingAuth, TriggerLogout}:            StateLoggedOut,

	{StateConnecting, TriggerTransportConfirmed}: StateConnected,
	{StateConnecting, TriggerTransportRejected}:  StateDisconnected,
	{StateConnecting, TriggerDisconnect}:         StateDisconnected,

	{StateConnected, TriggerDisconnect}:    StateDisconnected,
	{StateConnected, TriggerTransportLost}: StateDisconnected,
	{StateConnected, TriggerLogout}:        StateLoggedOut,
	{StateConnected, TriggerRemoteRevoke}:  StateLoggedOut,

	{StateDisconnected, TriggerLogout}: StateLoggedOut,
}

// Transition returns the state reached by applying trigger to from.
// ok is false when the pair is not part of the lifecycle.
func Transition(from State, trigger Trigger) (to State, ok bool) {
	to, ok = transitions[edge{from, trigger}]
	return to, ok
}

// stateMachine holds the current state. Fire must be called with the owning
// adapter's lock held; Current is lock-free.
type stateMachine struct {
	state       atomic.Uint32
	lastConnect atomic.Int64
	lastError   atomic.Pointer[string]
	onChange    func(from, to State, trigger Trigger)
}

// Current returns a racily-current view of the state.
func (m *stateMachine) Current() State {
	return State(m.state.Load())
}

// Fire applies trigger and reports whether the state changed.
func (m *stateMachine) Fire(trigger Trigger) (from, to State, ok bool) {
	from = m.Current()
	to, ok = Transition(from, trigger)
	if !ok {
		return from, from, false
	}
	m.state.Store(uint32(to))
	if to == StateConnected {
		m.lastConnect.Store(time.Now().UnixNano())
		m.lastError.Store(nil)
	}
	if m.onChange != nil {
		m.onChange(from, to, trigger)
	}
	return from, to, true
}

func (m *stateMachine) setError(err error) {
	if err == nil {
		m.lastError.Store(nil)
		return
	}
	s := err.Error()
	m.lastError.Store(&s)
}

func (m *stateMachine) lastErr() string {
	if p := m.lastError.Load(); p != nil {
		return *p
	}
	return ""
}

func (m *stateMachine) lastConnected() time.Time {
	ns := m.lastConnect.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
