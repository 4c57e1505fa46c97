package memory

import "time"

// EntryKind classifies long-term memories.
type EntryKind string

const (
	KindFact       EntryKind = "fact"
	KindPreference EntryKind = "preference"
	KindEvent      EntryKind = "event"
)

// Entry is an immutable, source-attributed unit of long-term knowledge.
// Corrections are new entries, never edits, so provenance stays
// auditable.
type Entry struct {
	ID        string
	UserID    string
	Content   string
	Source    string
	Kind      EntryKind
	CreatedAt time.Time
}

// Reminder is a pending followup: something to assist the user with
// later. Reminders are separate from the interrupted-task stack; they
// carry no resumable execution state.
type Reminder struct {
	ID         string
	UserID     string
	Content    string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// DraftStatus tracks the on-behalf-of-user confirmation flow.
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftConfirmed DraftStatus = "confirmed"
	DraftDiscarded DraftStatus = "discarded"
	DraftExpired   DraftStatus = "expired"
)

// Draft is a staged on-behalf-of-user message. It reaches the outbound
// queue only after explicit confirmation; expiry discards it.
type Draft struct {
	ID        string
	UserID    string
	Channel   string
	ChatID    string
	Content   string
	Status    DraftStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AlarmStatus tracks a scheduled alarm's lifecycle.
type AlarmStatus string

const (
	AlarmPending   AlarmStatus = "pending"
	AlarmFired     AlarmStatus = "fired"
	AlarmCancelled AlarmStatus = "cancelled"
)

// Alarm is a scheduled future event. Ownership transfers to the inbound
// queue when it fires; recurring alarms carry a cron expression and are
// rescheduled after each firing.
type Alarm struct {
	ID       string
	UserID   string
	FireAt   time.Time
	Payload  string
	CronExpr string
	Status   AlarmStatus
}

// TaskRecord is a terminal task preserved for provenance. Completed and
// failed tasks land here when they leave the active slot; the snapshot
// holds the full task state at the terminal transition.
type TaskRecord struct {
	TaskID     string
	UserID     string
	Status     string
	Detail     string
	Snapshot   []byte
	ArchivedAt time.Time
}

// HistoryMessage is one archived conversation turn. The archive is
// append-only; cutoff hides turns from the window by advancing the
// epoch, it never deletes.
type HistoryMessage struct {
	ID        string
	UserID    string
	Direction string // "in" or "out"
	Kind      string
	Content   string
	Epoch     int
	CreatedAt time.Time
}
