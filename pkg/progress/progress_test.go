package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartAndGet(t *testing.T) {
	s := NewStore(0)
	s.Start("upload_1", "queued for processing")

	rec, ok := s.Get("upload_1")
	require.True(t, ok)
	require.Equal(t, StatusQueued, rec.Status)
	require.Equal(t, 0, rec.Progress)
}

func TestGetUnknown(t *testing.T) {
	s := NewStore(0)
	_, ok := s.Get("nope")
	require.False(t, ok)
}

func TestProgressMonotonic(t *testing.T) {
	s := NewStore(0)
	s.Start("j", "")

	s.Update("j", StatusCopying, 30, "copying")
	s.Update("j", StatusCopying, 10, "copying")

	rec, _ := s.Get("j")
	require.Equal(t, 30, rec.Progress, "progress must not decrease within a job")

	s.Update("j", StatusChecksum, 250, "hashing")
	rec, _ = s.Get("j")
	require.Equal(t, 100, rec.Progress)
}

func TestStartResetsProgress(t *testing.T) {
	s := NewStore(0)
	s.Start("j", "")
	s.Update("j", StatusCopying, 80, "")

	s.Start("j", "fresh attempt")
	rec, _ := s.Get("j")
	require.Equal(t, 0, rec.Progress)
	require.Equal(t, StatusQueued, rec.Status)
}

func TestTerminalRecordsFrozen(t *testing.T) {
	s := NewStore(0)
	s.Start("j", "")
	s.Complete("j", "abc123", "done")

	s.Update("j", StatusCopying, 10, "late writer")
	s.Fail("j", "late failure")

	rec, _ := s.Get("j")
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, 100, rec.Progress)
	require.Equal(t, "abc123", rec.Checksum)
}

func TestFailKeepsProgress(t *testing.T) {
	s := NewStore(0)
	s.Start("j", "")
	s.Update("j", StatusCopying, 42, "")
	s.Fail("j", "disk full")

	rec, _ := s.Get("j")
	require.Equal(t, StatusError, rec.Status)
	require.Equal(t, 42, rec.Progress)
	require.Equal(t, "disk full", rec.Message)
}

func TestTerminalEviction(t *testing.T) {
	s := NewStore(time.Minute)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.Start("old", "")
	s.Complete("old", "digest", "done")
	s.Start("live", "")
	s.Update("live", StatusCopying, 5, "")

	clock = clock.Add(2 * time.Minute)

	_, ok := s.Get("old")
	require.False(t, ok, "terminal record past retention should be evicted")

	_, ok = s.Get("live")
	require.True(t, ok, "non-terminal records are never evicted")

	// Start on another job sweeps the map too.
	s.Start("new", "")
	require.Equal(t, 2, s.Len())
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := NewStore(0)
	s.Start("j", "")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i <= 100; i++ {
			s.Update("j", StatusCopying, i, "copying")
		}
	}()
	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 200; i++ {
			rec, ok := s.Get("j")
			if !ok {
				continue
			}
			if rec.Progress < last {
				t.Errorf("observed progress regression: %d -> %d", last, rec.Progress)
				return
			}
			last = rec.Progress
		}
	}()

	wg.Wait()
}
