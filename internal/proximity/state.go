// Package proximity implements the found-drop and exchange flow of a session.
package proximity

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/photo-drop/internal/model"
)

var (
	// ErrNotIdle is returned when a drop is started outside the idle phase.
	ErrNotIdle = eris.New("proximity: not idle")
	// ErrNoLocation is returned when a drop is attempted without a position.
	ErrNoLocation = eris.New("proximity: user location unknown")
	// ErrNoExchange is returned when no exchange is pending.
	ErrNoExchange = eris.New("proximity: no exchange pending")
	// ErrNoPrompt is returned when a decision arrives with no prompt shown.
	ErrNoPrompt = eris.New("proximity: no found prompt")
	// ErrPickerClosed is returned for picker results while it is closed.
	ErrPickerClosed = eris.New("proximity: picker not open")
)

// Phase is the exchange flow phase.
type Phase int

const (
	Idle Phase = iota
	AwaitingDecision
	ExchangePending
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingDecision:
		return "awaiting_decision"
	case ExchangePending:
		return "exchange_pending"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the exchange target and phase. The zero value is idle.
type State struct {
	Phase          Phase           `json:"phase"`
	TargetKey      string          `json:"target_key,omitempty"`
	TargetLocation *model.Location `json:"target_location,omitempty"`
}

// InExchange reports whether the user chose to exchange with the target.
func (s State) InExchange() bool {
	return s.Phase == ExchangePending
}

// Found records key as the exchange target. It replaces a target that is
// still awaiting a decision. During an exchange the state is returned
// unchanged and ok is false.
func Found(s State, key string, loc model.Location) (next State, ok bool) {
	if s.Phase == ExchangePending {
		return s, false
	}
	return State{Phase: AwaitingDecision, TargetKey: key, TargetLocation: &loc}, true
}

// Decline answers the prompt with "Not Here".
func Decline(s State) (State, error) {
	if s.Phase != AwaitingDecision {
		return s, ErrNoPrompt
	}
	return State{}, nil
}

// Accept answers the prompt with "Exchange".
func Accept(s State) (State, error) {
	if s.Phase != AwaitingDecision {
		return s, ErrNoPrompt
	}
	s.Phase = ExchangePending
	return s, nil
}

// Finish ends a pending exchange, successful or not.
func Finish(s State) (State, error) {
	if s.Phase != ExchangePending {
		return s, ErrNoExchange
	}
	return State{}, nil
}

// Cancel abandons a pending exchange. Other phases are unchanged.
func Cancel(s State) State {
	if s.Phase == ExchangePending {
		return State{}
	}
	return s
}
