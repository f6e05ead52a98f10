package migrate //nolint:testpackage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchup/couchup/couch"
)

const testTick = time.Millisecond

// progressRecorder collects sink updates for assertions.
type progressRecorder struct {
	mu      sync.Mutex
	updates [][2]int64
}

func (p *progressRecorder) sink() ProgressSink {
	return func(current, maxSize int64) {
		p.mu.Lock()
		p.updates = append(p.updates, [2]int64{current, maxSize})
		p.mu.Unlock()
	}
}

func (p *progressRecorder) all() [][2]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][2]int64(nil), p.updates...)
}

func TestMonitorEmptySourceCompletesWithoutPolling(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 0, DataSize: 0})

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 3,
		Tick:         testTick,
	}

	outcome, err := mon.Watch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Zero(t, target.pollCount("orders"), "empty source must not poll the target")
}

func TestMonitorStallDetection(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 100, DataSize: 5000})
	target.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 40, DataSize: 2000})

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 3,
		Tick:         testTick,
	}

	outcome, err := mon.Watch(context.Background())
	require.NoError(t, err, "stall is a result value, not an error")

	assert.Equal(t, OutcomeStalled, outcome)
	// first poll starts the streak, three unchanged polls reach the timeout
	assert.Equal(t, 4, target.pollCount("orders"))
}

func TestMonitorTargetNotFoundTolerated(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 100, DataSize: 5000})
	// replication has not created the target database yet
	target.setInfoSeq("orders",
		nil,
		&couch.DatabaseInfo{DocCount: 100, DataSize: 5000},
	)

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 10,
		Tick:         testTick,
	}

	outcome, err := mon.Watch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 2, target.pollCount("orders"))
}

func TestMonitorReplicationScenario(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 100, DataSize: 5000})
	target.setInfoSeq("orders",
		nil,
		&couch.DatabaseInfo{DocCount: 40, DataSize: 2000},
		&couch.DatabaseInfo{DocCount: 100, DataSize: 5000},
	)

	rec := &progressRecorder{}

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 10,
		Tick:         testTick,
		Progress:     rec.sink(),
	}

	outcome, err := mon.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	updates := rec.all()
	require.NotEmpty(t, updates)

	assert.Contains(t, updates, [2]int64{2000, 5000})
	assert.Equal(t, [2]int64{5000, 5000}, updates[len(updates)-1])
}

func TestMonitorClampsInflatedTargetSize(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 100, DataSize: 5000})
	// the clustered store reports a size larger than the source
	target.setInfoSeq("orders",
		&couch.DatabaseInfo{DocCount: 40, DataSize: 9000},
		&couch.DatabaseInfo{DocCount: 100, DataSize: 9000},
	)

	rec := &progressRecorder{}

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 10,
		Tick:         testTick,
		Progress:     rec.sink(),
	}

	outcome, err := mon.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	for _, u := range rec.all() {
		assert.LessOrEqual(t, u[0], u[1], "current must never exceed max")
	}
}

func TestMonitorTargetErrorFails(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.setInfoSeq("orders", &couch.DatabaseInfo{DocCount: 100, DataSize: 5000})
	target.infoStatus["orders"] = 500

	mon := &Monitor{
		Source:       source.client(),
		Target:       target.client(),
		DB:           "orders",
		StallTimeout: 3,
		Tick:         testTick,
	}

	outcome, err := mon.Watch(context.Background())
	require.Error(t, err)

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, err.Error(), "boom")
}

func TestMonitorSourceErrorFails(t *testing.T) {
	t.Parallel()

	source := newFakeCouch(t)
	target := newFakeCouch(t)

	source.infoStatus["orders"] = 500

	mon := &Monitor{
		Source: source.client(),
		Target: target.client(),
		DB:     "orders",
		Tick:   testTick,
	}

	outcome, err := mon.Watch(context.Background())
	require.Error(t, err)

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, target.pollCount("orders"))
}
