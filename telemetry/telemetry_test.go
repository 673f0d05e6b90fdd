package telemetry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ezex-io/flowrt/telemetry"
)

type spySink struct {
	mu      sync.Mutex
	records []telemetry.Record
}

func (s *spySink) Deliver(r telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)

	return nil
}

func (s *spySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func TestEmitDeliversToAttachedSink(t *testing.T) {
	b := telemetry.New()
	defer b.Shutdown()

	sink := &spySink{}
	b.Attach(sink)

	b.Emit(telemetry.Record{PipelineID: "p1", NodeID: "n1", Metric: "execution_time", Value: 1.5})

	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestEmitStampsTimestampWhenZero(t *testing.T) {
	b := telemetry.New()
	defer b.Shutdown()

	sink := &spySink{}
	b.Attach(sink)

	b.Emit(telemetry.Record{PipelineID: "p1", Metric: "processing_start"})

	waitFor(t, func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.False(t, sink.records[0].Timestamp.IsZero())
}

func TestFailingSinkIsDetached(t *testing.T) {
	b := telemetry.New()
	defer b.Shutdown()

	var calls int
	var mu sync.Mutex
	failing := telemetry.SinkFunc(func(telemetry.Record) error {
		mu.Lock()
		calls++
		mu.Unlock()

		return assertErr
	})
	b.Attach(failing)

	b.Emit(telemetry.Record{Metric: "a"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	b.Emit(telemetry.Record{Metric: "b"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "sink must be detached after its first failure")
}

var assertErr = errFailingSink{}

type errFailingSink struct{}

func (errFailingSink) Error() string { return "sink failed" }

func TestPipelineLevelEventHasEmptyNodeID(t *testing.T) {
	b := telemetry.New()
	defer b.Shutdown()

	sink := &spySink{}
	b.Attach(sink)

	b.Emit(telemetry.Record{PipelineID: "p1", Metric: "pipeline_started"})

	waitFor(t, func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.records[0].NodeID)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
