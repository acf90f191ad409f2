package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionWakeHappyPath(t *testing.T) {
	s := StageIdle

	next, err := Transition(s, StagePassiveListening)
	require.NoError(t, err)
	require.Equal(t, StagePassiveListening, next)

	next, err = Transition(next, StageDetected)
	require.NoError(t, err)
	require.Equal(t, StageDetected, next)

	next, err = Transition(next, StageActiveCapture)
	require.NoError(t, err)
	require.Equal(t, StageActiveCapture, next)

	next, err = Transition(next, StageProcessing)
	require.NoError(t, err)
	require.Equal(t, StageProcessing, next)

	next, err = Transition(next, StageResponding)
	require.NoError(t, err)
	require.Equal(t, StageResponding, next)

	next, err = Transition(next, StagePassiveListening)
	require.NoError(t, err)
	require.Equal(t, StagePassiveListening, next)
}

func TestTransitionManualTriggerSkipsDetected(t *testing.T) {
	next, err := Transition(StagePassiveListening, StageActiveCapture)
	require.NoError(t, err)
	require.Equal(t, StageActiveCapture, next)

	next, err = Transition(StageIdle, StageActiveCapture)
	require.NoError(t, err)
	require.Equal(t, StageActiveCapture, next)
}

func TestTransitionErrorSinkFromAnyActiveStage(t *testing.T) {
	stages := []Stage{StagePassiveListening, StageDetected, StageActiveCapture, StageProcessing, StageResponding, StageTimedOut}
	for _, stage := range stages {
		next, err := Transition(stage, StageError)
		require.NoError(t, err, "from %s", stage)
		require.Equal(t, StageError, next)
	}

	next, err := Transition(StageIdle, StageError)
	require.Error(t, err)
	require.Equal(t, StageIdle, next)
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		to      Stage
		want    Stage
		wantErr bool
	}{
		{name: "idle to detected invalid", from: StageIdle, to: StageDetected, want: StageIdle, wantErr: true},
		{name: "idle to processing invalid", from: StageIdle, to: StageProcessing, want: StageIdle, wantErr: true},
		{name: "idle to timed out invalid", from: StageIdle, to: StageTimedOut, want: StageIdle, wantErr: true},
		{name: "passive to processing invalid", from: StagePassiveListening, to: StageProcessing, want: StagePassiveListening, wantErr: true},
		{name: "passive to idle invalid", from: StagePassiveListening, to: StageIdle, want: StagePassiveListening, wantErr: true},
		{name: "detected to processing invalid", from: StageDetected, to: StageProcessing, want: StageDetected, wantErr: true},
		{name: "detected to passive invalid", from: StageDetected, to: StagePassiveListening, want: StageDetected, wantErr: true},
		{name: "capture to responding invalid", from: StageActiveCapture, to: StageResponding, want: StageActiveCapture, wantErr: true},
		{name: "capture to idle invalid", from: StageActiveCapture, to: StageIdle, want: StageActiveCapture, wantErr: true},
		{name: "capture to timed out valid", from: StageActiveCapture, to: StageTimedOut, want: StageTimedOut, wantErr: false},
		{name: "processing to timed out invalid", from: StageProcessing, to: StageTimedOut, want: StageProcessing, wantErr: true},
		{name: "processing to idle invalid", from: StageProcessing, to: StageIdle, want: StageProcessing, wantErr: true},
		{name: "responding to capture invalid", from: StageResponding, to: StageActiveCapture, want: StageResponding, wantErr: true},
		{name: "responding to idle valid", from: StageResponding, to: StageIdle, want: StageIdle, wantErr: false},
		{name: "error to passive valid", from: StageError, to: StagePassiveListening, want: StagePassiveListening, wantErr: false},
		{name: "error to capture invalid", from: StageError, to: StageActiveCapture, want: StageError, wantErr: true},
		{name: "timed out to idle valid", from: StageTimedOut, to: StageIdle, want: StageIdle, wantErr: false},
		{name: "timed out to detected invalid", from: StageTimedOut, to: StageDetected, want: StageTimedOut, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.from, tc.to)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))
				require.Equal(t, tc.from, invalid.From)
				require.Equal(t, tc.to, invalid.To)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStagePredicates(t *testing.T) {
	require.True(t, Listening(StagePassiveListening))
	require.True(t, Listening(StageDetected))
	require.True(t, Listening(StageActiveCapture))
	require.False(t, Listening(StageProcessing))
	require.False(t, Listening(StageIdle))

	require.True(t, Processing(StageProcessing))
	require.True(t, Processing(StageResponding))
	require.False(t, Processing(StageActiveCapture))

	require.False(t, Busy(StageIdle))
	require.False(t, Busy(StagePassiveListening))
	require.True(t, Busy(StageDetected))
	require.True(t, Busy(StageActiveCapture))
	require.True(t, Busy(StageProcessing))
	require.True(t, Busy(StageResponding))
	require.True(t, Busy(StageError))
	require.True(t, Busy(StageTimedOut))

	require.True(t, Terminal(StageResponding))
	require.True(t, Terminal(StageError))
	require.True(t, Terminal(StageTimedOut))
	require.False(t, Terminal(StageActiveCapture))
}

func TestTransitionUnknownStage(t *testing.T) {
	next, err := Transition(Stage("mystery"), StageActiveCapture)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown stage")
	require.Equal(t, Stage("mystery"), next)
}
