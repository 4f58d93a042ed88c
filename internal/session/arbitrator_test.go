package session

import (
	"testing"
)

func TestArbitratorEscalation(t *testing.T) {
	a := NewArbitrator(3, nil)

	for turn := 0; turn < 3; turn++ {
		v := a.ObserveSilentTurn()
		if v.Prompt != defaultSilentPrompts[turn] {
			t.Errorf("Turn %d: expected prompt %q, got %q", turn+1, defaultSilentPrompts[turn], v.Prompt)
		}
		wantHangUp := turn == 2
		if v.HangUp != wantHangUp {
			t.Errorf("Turn %d: expected hangUp %v, got %v", turn+1, wantHangUp, v.HangUp)
		}
	}
}

func TestArbitratorPromptIndexClamped(t *testing.T) {
	a := NewArbitrator(5, []string{"first", "second"})

	var v Verdict
	for turn := 0; turn < 5; turn++ {
		v = a.ObserveSilentTurn()
	}
	if v.Prompt != "second" {
		t.Errorf("Expected last prompt reused past the list, got %q", v.Prompt)
	}
	if !v.HangUp {
		t.Errorf("Expected hangUp at the limit")
	}
}

func TestArbitratorVoicedTurnResets(t *testing.T) {
	a := NewArbitrator(3, nil)

	a.ObserveSilentTurn()
	a.ObserveSilentTurn()
	a.ObserveVoicedTurn()

	if got := a.SilentTurns(); got != 0 {
		t.Errorf("Expected counter reset after voiced turn, got %d", got)
	}
	v := a.ObserveSilentTurn()
	if v.Prompt != defaultSilentPrompts[0] {
		t.Errorf("Expected escalation restarted, got %q", v.Prompt)
	}
	if v.HangUp {
		t.Errorf("Expected no hangUp after reset")
	}
}

func TestArbitratorDefaultLimit(t *testing.T) {
	a := NewArbitrator(0, nil)

	a.ObserveSilentTurn()
	a.ObserveSilentTurn()
	v := a.ObserveSilentTurn()
	if !v.HangUp {
		t.Errorf("Expected default limit of 3 silent turns")
	}
}

func TestArbitratorBargeInOnlyOnTransition(t *testing.T) {
	a := NewArbitrator(3, nil)

	if _, ok := a.BargeIn(); ok {
		t.Errorf("Expected no barge-in while agent is quiet")
	}

	a.SetAgentSpeaking(true)
	ack, ok := a.BargeIn()
	if !ok {
		t.Fatalf("Expected barge-in while agent speaks")
	}
	if ack != defaultBargeInAck {
		t.Errorf("Expected acknowledgement %q, got %q", defaultBargeInAck, ack)
	}
	if a.AgentSpeaking() {
		t.Errorf("Expected speaking flag cleared by barge-in")
	}

	if _, ok := a.BargeIn(); ok {
		t.Errorf("Expected no second barge-in without new agent speech")
	}
}

func TestArbitratorReset(t *testing.T) {
	a := NewArbitrator(3, nil)

	a.SetAgentSpeaking(true)
	a.ObserveSilentTurn()
	a.ObserveSilentTurn()
	a.Reset()

	if a.AgentSpeaking() {
		t.Errorf("Expected speaking flag cleared by reset")
	}
	if got := a.SilentTurns(); got != 0 {
		t.Errorf("Expected silent turns cleared by reset, got %d", got)
	}
}
