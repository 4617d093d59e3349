package app

import (
	"time"
)

// Level classifies an activity entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one line of the user-visible activity log.
type Entry struct {
	ID      string
	Time    time.Time
	Level   Level
	Message string
}

// DefaultActivityCapacity is how many entries the log keeps.
const DefaultActivityCapacity = 20

// ActivityLog is a bounded log of the most recent entries, oldest first.
// It is owned by the orchestrator loop and not safe for concurrent use.
type ActivityLog struct {
	capacity int
	entries  []Entry
}

// NewActivityLog creates a log keeping at most capacity entries.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{capacity: capacity}
}

// Add appends e, evicting the oldest entries beyond capacity. The backing
// array is never modified in place, so slices returned by Entries stay valid.
func (l *ActivityLog) Add(e Entry) {
	keep := l.entries
	if len(keep) >= l.capacity {
		keep = keep[len(keep)-l.capacity+1:]
	}
	next := make([]Entry, 0, len(keep)+1)
	next = append(next, keep...)
	l.entries = append(next, e)
}

// Entries returns the current entries, oldest first.
func (l *ActivityLog) Entries() []Entry {
	return l.entries
}

// Len returns the number of entries held.
func (l *ActivityLog) Len() int {
	return len(l.entries)
}
