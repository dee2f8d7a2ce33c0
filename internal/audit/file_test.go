package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 4, 26, 15, 0, 0, 0, time.UTC)

func TestFileSinkAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	records := []Record{
		{IncidentID: "austin-1", Location: "Austin", Kind: KindObserved, Timestamp: testTime},
		{IncidentID: "austin-1", Location: "Austin", Kind: KindClassified, Timestamp: testTime.Add(time.Second),
			Payload: map[string]any{"severity": "High", "disaster_type": "Severe Storm"}},
	}
	for _, rec := range records {
		require.NoError(t, sink.Append(context.Background(), rec))
	}
	require.NoError(t, sink.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindObserved, got[0].Kind)
	assert.Equal(t, KindClassified, got[1].Kind)
	assert.Equal(t, "High", got[1].Payload["severity"])
}

func TestFileSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Append(context.Background(), Record{
			IncidentID: fmt.Sprintf("inc-%d", i), Kind: KindObserved, Timestamp: testTime,
		}))
		require.NoError(t, sink.Close())
	}

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 2, "reopening must append, not truncate")
}

func TestFileSinkConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = sink.Append(context.Background(), Record{
					IncidentID: fmt.Sprintf("inc-%d", w),
					Kind:       KindObserved,
					Timestamp:  testTime,
					Payload:    map[string]any{"n": i},
				})
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	// Every line must parse: concurrent appends must not interleave.
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, writers*perWriter)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestMultiSinkFanOut(t *testing.T) {
	path1 := filepath.Join(t.TempDir(), "a.jsonl")
	path2 := filepath.Join(t.TempDir(), "b.jsonl")

	a, err := NewFileSink(path1)
	require.NoError(t, err)
	b, err := NewFileSink(path2)
	require.NoError(t, err)

	multi := NewMultiSink(a, b)
	require.NoError(t, multi.Append(context.Background(), Record{IncidentID: "inc-1", Kind: KindObserved, Timestamp: testTime}))
	require.NoError(t, multi.Close())

	for _, p := range []string{path1, path2} {
		got, err := ReadFile(p)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
}

func TestMultiSinkSingleSinkPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	a, err := NewFileSink(path)
	require.NoError(t, err)

	assert.Equal(t, Sink(a), NewMultiSink(a))
	require.NoError(t, a.Close())
}
