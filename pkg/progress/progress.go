// Package progress tracks in-flight ingestion jobs for pollers.
//
// Records are advisory: the catalog row remains the authoritative outcome of
// any job, and a restart of the service empties the store. Terminal records
// are kept around for a retention window so pollers that arrive shortly after
// completion still see the final state, then evicted.
package progress

import (
	"sync"
	"time"
)

// Status values a job moves through. Transitions are driven by whichever
// stage is currently active; a job has exactly one writer at a time.
// StatusDownloading and StatusDecompressing have no in-process writer today:
// detached downloads report through the catalog record only. They are part
// of the vocabulary pollers must accept so download jobs can move in process
// without a contract change.
const (
	StatusQueued        = "queued"
	StatusCopying       = "copying"
	StatusDownloading   = "downloading"
	StatusDecompressing = "decompressing"
	StatusChecksum      = "calculating_checksum"
	StatusCompleted     = "completed"
	StatusError         = "error"
)

// DefaultRetention is how long terminal records stay queryable.
const DefaultRetention = time.Hour

// Record is the point-in-time view of one job.
type Record struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Checksum string `json:"checksum,omitempty"`

	updatedAt time.Time
}

// Terminal reports whether the record will no longer change.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// Store is a process-wide table of job records, safe for concurrent use.
type Store struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]Record
}

// NewStore creates a Store that evicts terminal records after retention.
// A non-positive retention falls back to DefaultRetention.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: retention,
		now:       time.Now,
		jobs:      make(map[string]Record),
	}
}

// Start creates or resets the record for id. Progress restarts at zero; this
// is the only operation allowed to move progress backwards.
func (s *Store) Start(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	s.jobs[id] = Record{
		Status:    StatusQueued,
		Progress:  0,
		Message:   message,
		updatedAt: s.now(),
	}
}

// Update advances the record for id. Progress is clamped so it never
// decreases within a job, and terminal records are left untouched.
func (s *Store) Update(id, status string, pct int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok || cur.Terminal() {
		return
	}
	if pct < cur.Progress {
		pct = cur.Progress
	}
	if pct > 100 {
		pct = 100
	}

	cur.Status = status
	cur.Progress = pct
	cur.Message = message
	cur.updatedAt = s.now()
	s.jobs[id] = cur
}

// Complete marks id finished with its final checksum.
func (s *Store) Complete(id, checksum, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok || cur.Terminal() {
		return
	}

	s.jobs[id] = Record{
		Status:    StatusCompleted,
		Progress:  100,
		Message:   message,
		Checksum:  checksum,
		updatedAt: s.now(),
	}
}

// Fail marks id failed. The prior progress value is retained so a poller can
// see how far the job got.
func (s *Store) Fail(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok || cur.Terminal() {
		return
	}

	cur.Status = StatusError
	cur.Message = message
	cur.updatedAt = s.now()
	s.jobs[id] = cur
}

// Get returns the record for id. ok is false for unknown or evicted jobs;
// callers cannot distinguish "never tracked" from "finished long ago".
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()

	if ok && rec.Terminal() && s.now().Sub(rec.updatedAt) > s.retention {
		s.mu.Lock()
		s.evictLocked()
		s.mu.Unlock()
		return Record{}, false
	}
	return rec, ok
}

// Len reports how many records are currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, rec := range s.jobs {
		if rec.Terminal() && rec.updatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
