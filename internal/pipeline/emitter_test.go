package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visdom/internal/domain"
)

func TestStreamClampsProgress(t *testing.T) {
	var c Collector
	s := NewStream(&c)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, domain.Rendering{Base: domain.Base{Msg: "a", Pct: 60}}))
	require.NoError(t, s.Emit(ctx, domain.FixingCode{Base: domain.Base{Msg: "b", Pct: 40}, Code: "x"}))
	require.NoError(t, s.Emit(ctx, domain.Rendering{Base: domain.Base{Msg: "c", Pct: 250}}))

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, 60, events[1].Progress())
	assert.Equal(t, "x", events[1].(domain.FixingCode).Code, "payload survives clamping")
	assert.Equal(t, 100, events[2].Progress())
	assert.Equal(t, 100, s.Progress())
}

func TestStreamDropsEventsAfterTerminal(t *testing.T) {
	var c Collector
	s := NewStream(&c)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, domain.Failed{Base: domain.Base{Msg: "boom", Pct: 30}}))
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Emit(ctx, domain.Completed{Base: domain.Base{Pct: 100}, VideoURL: "/v.mp4"}), ErrStreamClosed)
	assert.ErrorIs(t, s.Emit(ctx, domain.Failed{Base: domain.Base{Msg: "again"}}), ErrStreamClosed)

	require.Len(t, c.Events(), 1)
	assert.Equal(t, domain.StepError, c.Last().Step())
}

func TestEmitterFunc(t *testing.T) {
	var got []domain.Step
	s := NewStream(EmitterFunc(func(_ context.Context, e domain.Event) error {
		got = append(got, e.Step())
		return nil
	}))

	require.NoError(t, s.Emit(context.Background(), domain.GeneratingCode{Base: domain.Base{Pct: 10}}))
	require.NoError(t, s.Emit(context.Background(), domain.Completed{Base: domain.Base{Pct: 100}}))

	assert.Equal(t, []domain.Step{domain.StepGeneratingCode, domain.StepComplete}, got)
}
