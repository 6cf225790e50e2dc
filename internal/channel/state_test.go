package channel

import "testing"

func TestTransition_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    State
		trigger Trigger
		want    State
	}{
		{StateDisconnected, TriggerDialWithSession, StateConnecting},
		{StateDisconnected, TriggerDialNoSession, StateAwaitingAuth},
		{StateLoggedOut, TriggerDialWithSession, StateConnecting},
		{StateLoggedOut, TriggerDialNoSession, StateAwaitingAuth},
		{StateAwaitingAuth, TriggerChallengeAccepted, StateConnected},
		{StateAwaitingAuth, TriggerChallengeExpired, StateDisconnected},
		{StateAwaitingAuth, TriggerLoginCancelled, StateDisconnected},
		{StateConnecting, TriggerTransportConfirmed, StateConnected},
		{StateConnecting, TriggerTransportRejected, StateDisconnected},
		{StateConnected, TriggerDisconnect, StateDisconnected},
		{StateConnected, TriggerLogout, StateLoggedOut},
		{StateConnected, TriggerRemoteRevoke, StateLoggedOut},
		{StateConnected, TriggerTransportLost, StateDisconnected},
	}
	for _, tc := range tests {
		t.Run(tc.from.String()+"/"+tc.trigger.String(), func(t *testing.T) {
			t.Parallel()
			got, ok := Transition(tc.from, tc.trigger)
			if !ok {
				t.Fatalf("Transition(%s, %s) rejected", tc.from, tc.trigger)
			}
			if got != tc.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tc.from, tc.trigger, got, tc.want)
			}
		})
	}
}

func TestTransition_InvalidPairsRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    State
		trigger Trigger
	}{
		{StateConnected, TriggerDialWithSession},
		{StateConnected, TriggerChallengeAccepted},
		{StateConnecting, TriggerChallengeAccepted},
		{StateDisconnected, TriggerTransportConfirmed},
		{StateDisconnected, TriggerRemoteRevoke},
		{StateLoggedOut, TriggerDisconnect},
		{StateAwaitingAuth, TriggerTransportConfirmed},
	}
	for _, tc := range tests {
		got, ok := Transition(tc.from, tc.trigger)
		if ok {
			t.Errorf("Transition(%s, %s) = %s, want rejection", tc.from, tc.trigger, got)
		}
	}
}

func TestTransition_Deterministic(t *testing.T) {
	t.Parallel()

	states := []State{StateDisconnected, StateConnecting, StateAwaitingAuth, StateConnected, StateLoggedOut}
	for _, s := range states {
		for tr := TriggerDialWithSession; tr <= TriggerRemoteRevoke; tr++ {
			first, ok1 := Transition(s, tr)
			for range 3 {
				again, ok2 := Transition(s, tr)
				if again != first || ok1 != ok2 {
					t.Fatalf("Transition(%s, %s) not deterministic", s, tr)
				}
			}
			if ok1 && first.String() == "unknown" {
				t.Fatalf("Transition(%s, %s) reached undefined state", s, tr)
			}
		}
	}
}

func TestStateMachine_FireRejectedLeavesState(t *testing.T) {
	t.Parallel()

	var m stateMachine
	if _, _, ok := m.Fire(TriggerTransportConfirmed); ok {
		t.Fatal("TransportConfirmed from Disconnected should be rejected")
	}
	if m.Current() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", m.Current())
	}

	m.Fire(TriggerDialWithSession)
	m.Fire(TriggerTransportConfirmed)
	if m.Current() != StateConnected {
		t.Fatalf("state = %s, want connected", m.Current())
	}
	if m.lastConnected().IsZero() {
		t.Error("lastConnected should be set on connect")
	}
}

func TestStateMachine_OnChange(t *testing.T) {
	t.Parallel()

	var got []State
	m := stateMachine{onChange: func(_, to State, _ Trigger) { got = append(got, to) }}
	m.Fire(TriggerDialNoSession)
	m.Fire(TriggerChallengeExpired)
	m.Fire(TriggerChallengeExpired)

	want := []State{StateAwaitingAuth, StateDisconnected}
	if len(got) != len(want) {
		t.Fatalf("onChange calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("onChange[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
