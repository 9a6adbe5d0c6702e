package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/photo-drop/internal/model"
)

var (
	locA = model.Location{Latitude: 37.0, Longitude: -122.0}
	locB = model.Location{Latitude: 37.0001, Longitude: -122.0001}
)

func TestFound_FromIdle(t *testing.T) {
	s, ok := Found(State{}, "k1", locA)
	require.True(t, ok)
	assert.Equal(t, AwaitingDecision, s.Phase)
	assert.Equal(t, "k1", s.TargetKey)
	assert.Equal(t, locA, *s.TargetLocation)
}

func TestFound_ReplacesAwaitingTarget(t *testing.T) {
	s, _ := Found(State{}, "k1", locA)
	s, ok := Found(s, "k2", locB)

	require.True(t, ok)
	assert.Equal(t, AwaitingDecision, s.Phase)
	assert.Equal(t, "k2", s.TargetKey)
	assert.Equal(t, locB, *s.TargetLocation)
}

func TestFound_IgnoredDuringExchange(t *testing.T) {
	s, _ := Found(State{}, "k1", locA)
	s, err := Accept(s)
	require.NoError(t, err)

	next, ok := Found(s, "k2", locB)
	assert.False(t, ok)
	assert.Equal(t, s, next)
}

func TestDecline(t *testing.T) {
	s, _ := Found(State{}, "k1", locA)
	s, err := Decline(s)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)

	_, err = Decline(State{})
	assert.ErrorIs(t, err, ErrNoPrompt)
}

func TestAcceptThenFinish(t *testing.T) {
	s, _ := Found(State{}, "k1", locA)
	s, err := Accept(s)
	require.NoError(t, err)
	assert.True(t, s.InExchange())
	assert.Equal(t, "k1", s.TargetKey)

	s, err = Finish(s)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)
	assert.False(t, s.InExchange())
}

func TestAccept_RequiresPrompt(t *testing.T) {
	_, err := Accept(State{})
	assert.ErrorIs(t, err, ErrNoPrompt)
}

func TestFinish_RequiresExchange(t *testing.T) {
	_, err := Finish(State{})
	assert.ErrorIs(t, err, ErrNoExchange)
}

func TestCancel(t *testing.T) {
	s, _ := Found(State{}, "k1", locA)
	assert.Equal(t, s, Cancel(s), "awaiting is unchanged")

	s, _ = Accept(s)
	assert.Equal(t, State{}, Cancel(s))
	assert.Equal(t, State{}, Cancel(State{}))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_decision", AwaitingDecision.String())
	assert.Equal(t, "exchange_pending", ExchangePending.String())
	text, err := ExchangePending.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "exchange_pending", string(text))
}
