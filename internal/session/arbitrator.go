package session

import (
	"sync"
)

// Escalating prompts spoken after consecutive silent turns. The last
// entry doubles as the hang-up line spoken when the silent-turn limit
// is reached.
var defaultSilentPrompts = []string{
	"Sorry, I didn't catch that. Could you say it again?",
	"I'm still having trouble hearing you. There may be some background noise on your end.",
	"I haven't been able to hear you, so I'll end the call here. Goodbye!",
}

// defaultBargeInAck is spoken when the user talks over the agent.
const defaultBargeInAck = "Sorry, go ahead."

// Verdict tells the session how to react to a finalized turn.
type Verdict struct {
	// Prompt is a line to speak to the client, empty when none
	Prompt string

	// HangUp is set when the silent-turn limit is reached and the
	// session should terminate after Prompt is spoken
	HangUp bool
}

// Arbitrator owns the turn-taking state for one session: whether the
// agent is currently speaking, and how many consecutive turns the user
// has been silent. Safe for use from the receive loop, the watchdog
// and the speaker goroutine.
type Arbitrator struct {
	mu            sync.Mutex
	agentSpeaking bool
	silentTurns   int
	limit         int
	prompts       []string
	ack           string
}

// NewArbitrator creates an Arbitrator. limit is the number of
// consecutive silent turns tolerated before hang-up; prompts may be
// nil to use the defaults.
func NewArbitrator(limit int, prompts []string) *Arbitrator {
	if limit <= 0 {
		limit = 3
	}
	if len(prompts) == 0 {
		prompts = defaultSilentPrompts
	}
	return &Arbitrator{
		limit:   limit,
		prompts: prompts,
		ack:     defaultBargeInAck,
	}
}

// AgentSpeaking reports whether agent audio is currently streaming
func (a *Arbitrator) AgentSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentSpeaking
}

// SetAgentSpeaking marks the start or end of an agent speech turn
func (a *Arbitrator) SetAgentSpeaking(on bool) {
	a.mu.Lock()
	a.agentSpeaking = on
	a.mu.Unlock()
}

// BargeIn clears the speaking flag when the user talks over the agent.
// It reports true only on the transition, so one user turn interrupts
// at most once, and returns the acknowledgement line to speak.
func (a *Arbitrator) BargeIn() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.agentSpeaking {
		return "", false
	}
	a.agentSpeaking = false
	return a.ack, true
}

// ObserveSilentTurn records a turn with no usable speech and returns
// the escalating prompt to speak. The prompt index is the silent-turn
// count clamped to the prompt list; HangUp is set once the count
// reaches the limit.
func (a *Arbitrator) ObserveSilentTurn() Verdict {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.silentTurns++
	idx := a.silentTurns - 1
	if idx >= len(a.prompts) {
		idx = len(a.prompts) - 1
	}
	return Verdict{
		Prompt: a.prompts[idx],
		HangUp: a.silentTurns >= a.limit,
	}
}

// ObserveVoicedTurn resets the silent-turn count
func (a *Arbitrator) ObserveVoicedTurn() {
	a.mu.Lock()
	a.silentTurns = 0
	a.mu.Unlock()
}

// SilentTurns reports the current consecutive silent-turn count
func (a *Arbitrator) SilentTurns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.silentTurns
}

// Reset clears all turn-taking state for a fresh conversation
func (a *Arbitrator) Reset() {
	a.mu.Lock()
	a.agentSpeaking = false
	a.silentTurns = 0
	a.mu.Unlock()
}
