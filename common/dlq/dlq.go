package dlq

import (
	"sync"
	"time"

	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// Entry captures a job whose retries are exhausted. Entries are never
// retried automatically.
type Entry struct {
	Job      models.WorkerJob `json:"job"`
	Error    string           `json:"error"`
	Attempts int              `json:"attempts"`
	FailedAt time.Time        `json:"failed_at"`
}

// Stats summarizes the sink contents
type Stats struct {
	Size       int       `json:"size"`
	TotalAdded int64     `json:"total_added"`
	OldestAt   *time.Time `json:"oldest_at,omitempty"`
	NewestAt   *time.Time `json:"newest_at,omitempty"`
}

// DeadLetterSink is an append-only collection of permanently failed jobs
type DeadLetterSink struct {
	mu         sync.Mutex
	entries    []Entry
	totalAdded int64
	log        *logger.Logger
}

// New creates an empty sink
func New(log *logger.Logger) *DeadLetterSink {
	return &DeadLetterSink{log: log}
}

// Add appends a dead-lettered job
func (s *DeadLetterSink) Add(job models.WorkerJob, errMsg string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{
		Job:      job,
		Error:    errMsg,
		Attempts: attempts,
		FailedAt: time.Now(),
	})
	s.totalAdded++

	s.log.Warn("job dead-lettered",
		"job_id", job.ID,
		"execution_id", job.ExecutionID,
		"node_id", job.Node.ID,
		"attempts", attempts,
		"error", errMsg,
	)
}

// Items returns a copy of all entries, oldest first
func (s *DeadLetterSink) Items() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Stats returns sink statistics
func (s *DeadLetterSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Size: len(s.entries), TotalAdded: s.totalAdded}
	if len(s.entries) > 0 {
		oldest := s.entries[0].FailedAt
		newest := s.entries[len(s.entries)-1].FailedAt
		st.OldestAt = &oldest
		st.NewestAt = &newest
	}
	return st
}

// Clear drops all entries. TotalAdded is preserved.
func (s *DeadLetterSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
