package api

import (
	"sync"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

var _ domain.JobEventSink = (*EventLog)(nil)

// EventLog records the terminal JobStateChanged event per job so remote
// requesters can poll for it over HTTP.
type EventLog struct {
	mu     sync.Mutex
	events map[string]domain.JobStateChange
}

// NewEventLog creates an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string]domain.JobStateChange)}
}

// JobStateChanged stores the event, replacing any earlier one for the job.
func (l *EventLog) JobStateChanged(ev domain.JobStateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.JobID] = ev
}

// Get returns the recorded event for a job.
func (l *EventLog) Get(jobID string) (domain.JobStateChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[jobID]
	return ev, ok
}
