package tracker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ForwardPath(t *testing.T) {
	s := Initial()
	var err error
	for phase := 1; phase <= 4; phase++ {
		s, err = s.Start(phase)
		require.NoError(t, err)
		assert.Equal(t, State{Kind: KindInProgress, Phase: phase}, s)
		s, err = s.CompletePhase(phase)
		require.NoError(t, err)
	}
	assert.Equal(t, "phase-4-complete", s.String())

	s, err = s.MarkVerified()
	require.NoError(t, err)
	s, err = s.Complete()
	require.NoError(t, err)
	assert.True(t, s.Terminal())
}

func TestState_InvalidTransitions(t *testing.T) {
	cases := []struct {
		name string
		fn   func() (State, error)
	}{
		{"start at phase 2", func() (State, error) { return Initial().Start(2) }},
		{"skip a phase", func() (State, error) { return State{Kind: KindPhaseComplete, Phase: 1}.Start(3) }},
		{"complete other phase", func() (State, error) { return State{Kind: KindInProgress, Phase: 2}.CompletePhase(3) }},
		{"verify early", func() (State, error) { return State{Kind: KindPhaseComplete, Phase: 3}.MarkVerified() }},
		{"complete unverified", func() (State, error) { return State{Kind: KindPhaseComplete, Phase: 4}.Complete() }},
		{"leave failed", func() (State, error) { return State{Kind: KindFailed, Phase: 2}.Start(2) }},
		{"roll back failed", func() (State, error) { return State{Kind: KindFailed, Phase: 2}.RollbackTo(1) }},
		{"roll forward", func() (State, error) { return State{Kind: KindInProgress, Phase: 2}.RollbackTo(3) }},
		{"fail before start", func() (State, error) { return Initial().Fail() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestState_Rollback(t *testing.T) {
	s, err := State{Kind: KindPhaseComplete, Phase: 3}.RollbackTo(2)
	require.NoError(t, err)
	assert.Equal(t, State{Kind: KindInProgress, Phase: 2}, s)

	s, err = State{Kind: KindInProgress, Phase: 3}.RollbackTo(1)
	require.NoError(t, err)
	assert.Equal(t, Initial(), s)
}

func TestState_Resume(t *testing.T) {
	s, err := State{Kind: KindInProgress, Phase: 2}.Start(2)
	require.NoError(t, err)
	assert.Equal(t, State{Kind: KindInProgress, Phase: 2}, s)
}

func TestParseState_RoundTrip(t *testing.T) {
	for _, s := range []State{
		Initial(),
		{Kind: KindInProgress, Phase: 3},
		{Kind: KindPhaseComplete, Phase: 1},
		{Kind: KindVerified},
		{Kind: KindComplete},
		{Kind: KindFailed, Phase: 2},
	} {
		got, err := ParseState(s.String())
		require.NoError(t, err, s.String())
		assert.Equal(t, s, got)
	}
	for _, bad := range []string{"", "phase-9-complete", "paused", "verified:2", "in-progress:x"} {
		_, err := ParseState(bad)
		assert.Error(t, err, bad)
	}
}
