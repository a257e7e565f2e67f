package dialog

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the dialog log when no capacity is configured.
const DefaultLogCapacity = 100

// Record is one handled dialog.
type Record struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Log keeps the most recent dialog records, oldest first.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Record
}

// NewLog creates a log holding at most capacity records.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds a record, dropping the oldest when full.
func (l *Log) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, r)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Entries returns a copy of the records.
func (l *Log) Entries() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.entries...)
}

// Last returns the most recent record.
func (l *Log) Last() (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Record{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
