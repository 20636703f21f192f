package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/actioncards/internal/game/approval"
)

type fakeLister map[string][]approval.Request

func (f fakeLister) Pending(_ context.Context, tableID string) ([]approval.Request, error) {
	if tableID == "broken" {
		return nil, errors.New("store offline")
	}
	return f[tableID], nil
}

func TestSweeper_SweepReportsNonEmptyTables(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	now := time.Now()
	lister := fakeLister{
		"table_a": {{CardID: "cleave", CreatedAt: now}, {CardID: "hex", CreatedAt: now.Add(-time.Minute)}},
		"table_b": nil,
	}
	s := NewSweeper(time.Minute, []string{"table_a", "table_b", "broken"}, lister, zap.New(core))

	s.Sweep(context.Background())

	reported := logs.FilterMessage("pending approvals").All()
	require.Len(t, reported, 1)
	fields := reported[0].ContextMap()
	assert.Equal(t, "table_a", fields["table"])
	assert.Equal(t, int64(2), fields["count"])
	assert.GreaterOrEqual(t, fields["oldest_age"], time.Minute)
	assert.Equal(t, 1, logs.FilterMessage("listing pending approvals failed").Len())
}

func TestSweeper_StartStops(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lister := fakeLister{"table_a": {{CardID: "cleave", CreatedAt: time.Now()}}}
	s := NewSweeper(5*time.Millisecond, []string{"table_a"}, lister, zap.New(core))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("pending approvals").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewSweeper_PanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewSweeper(0, nil, fakeLister{}, zap.NewNop())
	})
}
