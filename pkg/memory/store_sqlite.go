package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrEmptyStack is returned when popping a snapshot for a user with no
// interrupted tasks.
var ErrEmptyStack = errors.New("interrupted-task stack is empty")

// SQLiteStore is the canonical persistent storage: long-term memory
// entries, interrupted-task snapshots, pending followups, staged drafts,
// scheduled alarms, and the conversation archive all live here,
// partitioned by user.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates/opens the store database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memory_entries_user_idx ON memory_entries(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS task_snapshots (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			snapshot_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS task_snapshots_stack_idx ON task_snapshots(user_id, position);`,
		`CREATE TABLE IF NOT EXISTS task_archive (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			snapshot_json TEXT NOT NULL,
			archived_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS task_archive_user_idx ON task_archive(user_id, archived_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS followups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			resolved_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS followups_user_idx ON followups(user_id, resolved_at_ms, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS drafts_status_idx ON drafts(status, expires_at_ms);`,
		`CREATE TABLE IF NOT EXISTS alarms (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			fire_at_ms INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			cron_expr TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS alarms_due_idx ON alarms(status, fire_at_ms);`,
		`CREATE TABLE IF NOT EXISTS history_messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'chat',
			content TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS history_user_epoch_idx ON history_messages(user_id, epoch, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS history_windows (
			user_id TEXT PRIMARY KEY,
			epoch INTEGER NOT NULL,
			rounds INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

// --- long-term entries (append-only) ---

// AppendEntry persists a long-term memory entry. Entries are immutable;
// there is no update or delete path.
func (s *SQLiteStore) AppendEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = "mem-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Kind == "" {
		entry.Kind = KindFact
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, user_id, content, source, kind, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Content, entry.Source, string(entry.Kind), entry.CreatedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("append memory entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns a user's newest entries up to limit, the candidate
// set handed to the retrieval capability for scoring.
func (s *SQLiteStore) ListEntries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, source, kind, created_at_ms FROM memory_entries
		 WHERE user_id = ? ORDER BY created_at_ms DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var createdMS int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.Source, &kind, &createdMS); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		e.CreatedAt = time.UnixMilli(createdMS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- interrupted-task snapshots (short-term, per-user stack) ---

// PushSnapshot appends a serialized task snapshot to the top of the
// user's interrupted stack. Depth bounds are enforced by the task
// machine, not here.
func (s *SQLiteStore) PushSnapshot(ctx context.Context, userID string, snapshot []byte) error {
	depth, err := s.SnapshotDepth(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_snapshots (id, user_id, position, snapshot_json, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		"snap-"+uuid.NewString(), userID, depth, string(snapshot), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("push task snapshot: %w", err)
	}
	return nil
}

// PopSnapshot removes and returns the most recently pushed snapshot.
func (s *SQLiteStore) PopSnapshot(ctx context.Context, userID string) ([]byte, error) {
	var id, snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, snapshot_json FROM task_snapshots WHERE user_id = ? ORDER BY position DESC LIMIT 1`,
		userID).Scan(&id, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmptyStack
	}
	if err != nil {
		return nil, fmt.Errorf("pop task snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_snapshots WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete popped snapshot: %w", err)
	}
	return []byte(snapshot), nil
}

// SnapshotDepth reports how many interrupted tasks the user has stacked.
func (s *SQLiteStore) SnapshotDepth(ctx context.Context, userID string) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_snapshots WHERE user_id = ?`, userID).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("snapshot depth: %w", err)
	}
	return depth, nil
}

// ArchiveTask records a terminal (completed or failed) task. The archive
// is append-only; terminal tasks never return to the active slot or the
// interrupted stack.
func (s *SQLiteStore) ArchiveTask(ctx context.Context, userID, taskID, status, detail string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_archive (id, task_id, user_id, status, detail, snapshot_json, archived_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"arch-"+uuid.NewString(), taskID, userID, status, detail, string(snapshot), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

// ArchivedTasks returns the user's terminal tasks, most recent first.
func (s *SQLiteStore) ArchivedTasks(ctx context.Context, userID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, user_id, status, detail, snapshot_json, archived_at_ms
		 FROM task_archive WHERE user_id = ? ORDER BY archived_at_ms DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var snapshot string
		var archivedMS int64
		if err := rows.Scan(&rec.TaskID, &rec.UserID, &rec.Status, &rec.Detail, &snapshot, &archivedMS); err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		rec.Snapshot = []byte(snapshot)
		rec.ArchivedAt = time.UnixMilli(archivedMS)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- pending followups ---

func (s *SQLiteStore) AddFollowup(ctx context.Context, userID, content string) (string, error) {
	id := "fup-" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO followups (id, user_id, content, created_at_ms) VALUES (?, ?, ?, ?)`,
		id, userID, content, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("add followup: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) PendingFollowups(ctx context.Context, userID string) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, created_at_ms FROM followups
		 WHERE user_id = ? AND resolved_at_ms = 0 ORDER BY created_at_ms`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending followups: %w", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		var createdMS int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdMS)
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *SQLiteStore) ResolveFollowup(ctx context.Context, userID, followupID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET resolved_at_ms = ? WHERE id = ? AND user_id = ? AND resolved_at_ms = 0`,
		time.Now().UnixMilli(), followupID, userID)
	if err != nil {
		return fmt.Errorf("resolve followup: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("followup %q not found or already resolved", followupID)
	}
	return nil
}

// --- staged on-behalf-of-user drafts ---

func (s *SQLiteStore) CreateDraft(ctx context.Context, userID, channel, chatID, content string, ttl time.Duration) (Draft, error) {
	now := time.Now()
	draft := Draft{
		ID:        "draft-" + uuid.NewString()[:8],
		UserID:    userID,
		Channel:   channel,
		ChatID:    chatID,
		Content:   content,
		Status:    DraftPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts (id, user_id, channel, chat_id, content, status, created_at_ms, expires_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.UserID, draft.Channel, draft.ChatID, draft.Content,
		string(draft.Status), draft.CreatedAt.UnixMilli(), draft.ExpiresAt.UnixMilli())
	if err != nil {
		return Draft{}, fmt.Errorf("create draft: %w", err)
	}
	return draft, nil
}

// TakeDraft transitions a pending, unexpired draft to the given terminal
// status and returns it. Used for both confirmation and discard; expired
// drafts are not takeable.
func (s *SQLiteStore) TakeDraft(ctx context.Context, userID, draftID string, status DraftStatus) (Draft, error) {
	draft, err := s.getDraft(ctx, draftID)
	if err != nil {
		return Draft{}, err
	}
	if draft.UserID != userID {
		return Draft{}, fmt.Errorf("draft %q does not belong to this user", draftID)
	}
	if draft.Status != DraftPending {
		return Draft{}, fmt.Errorf("draft %q is %s, not pending", draftID, draft.Status)
	}
	if time.Now().After(draft.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `UPDATE drafts SET status = ? WHERE id = ?`, string(DraftExpired), draftID)
		return Draft{}, fmt.Errorf("draft %q has expired", draftID)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE drafts SET status = ? WHERE id = ?`, string(status), draftID); err != nil {
		return Draft{}, fmt.Errorf("update draft status: %w", err)
	}
	draft.Status = status
	return draft, nil
}

// ExpireDrafts marks every overdue pending draft expired and returns
// them so the caller can notify users. Expired drafts are never sent.
func (s *SQLiteStore) ExpireDrafts(ctx context.Context, now time.Time) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel, chat_id, content, status, created_at_ms, expires_at_ms FROM drafts
		 WHERE status = ? AND expires_at_ms <= ?`, string(DraftPending), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list overdue drafts: %w", err)
	}
	drafts, err := scanDrafts(rows)
	if err != nil {
		return nil, err
	}

	for i := range drafts {
		if _, err := s.db.ExecContext(ctx, `UPDATE drafts SET status = ? WHERE id = ?`, string(DraftExpired), drafts[i].ID); err != nil {
			return nil, fmt.Errorf("expire draft: %w", err)
		}
		drafts[i].Status = DraftExpired
	}
	return drafts, nil
}

func (s *SQLiteStore) getDraft(ctx context.Context, draftID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel, chat_id, content, status, created_at_ms, expires_at_ms FROM drafts WHERE id = ?`,
		draftID)
	var d Draft
	var status string
	var createdMS, expiresMS int64
	err := row.Scan(&d.ID, &d.UserID, &d.Channel, &d.ChatID, &d.Content, &status, &createdMS, &expiresMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("draft %q not found", draftID)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	d.Status = DraftStatus(status)
	d.CreatedAt = time.UnixMilli(createdMS)
	d.ExpiresAt = time.UnixMilli(expiresMS)
	return d, nil
}

func scanDrafts(rows *sql.Rows) ([]Draft, error) {
	defer rows.Close()
	var drafts []Draft
	for rows.Next() {
		var d Draft
		var status string
		var createdMS, expiresMS int64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Channel, &d.ChatID, &d.Content, &status, &createdMS, &expiresMS); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		d.Status = DraftStatus(status)
		d.CreatedAt = time.UnixMilli(createdMS)
		d.ExpiresAt = time.UnixMilli(expiresMS)
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// --- scheduled alarms ---

func (s *SQLiteStore) InsertAlarm(ctx context.Context, alarm Alarm) (Alarm, error) {
	if alarm.ID == "" {
		alarm.ID = "alarm-" + uuid.NewString()[:8]
	}
	if alarm.Status == "" {
		alarm.Status = AlarmPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (id, user_id, fire_at_ms, payload, cron_expr, status) VALUES (?, ?, ?, ?, ?, ?)`,
		alarm.ID, alarm.UserID, alarm.FireAt.UnixMilli(), alarm.Payload, alarm.CronExpr, string(alarm.Status))
	if err != nil {
		return Alarm{}, fmt.Errorf("insert alarm: %w", err)
	}
	return alarm, nil
}

// DueAlarms returns pending alarms whose fire time has passed, oldest
// first. Past-due alarms from before a restart are included, which is
// what makes missed firings fire immediately on recovery.
func (s *SQLiteStore) DueAlarms(ctx context.Context, now time.Time, limit int) ([]Alarm, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, fire_at_ms, payload, cron_expr, status FROM alarms
		 WHERE status = ? AND fire_at_ms <= ? ORDER BY fire_at_ms LIMIT ?`,
		string(AlarmPending), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due alarms: %w", err)
	}
	defer rows.Close()

	var alarms []Alarm
	for rows.Next() {
		var a Alarm
		var status string
		var fireMS int64
		if err := rows.Scan(&a.ID, &a.UserID, &fireMS, &a.Payload, &a.CronExpr, &status); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a.FireAt = time.UnixMilli(fireMS)
		a.Status = AlarmStatus(status)
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

// MarkAlarmFired finalizes a one-shot alarm, or reschedules a recurring
// one when nextFireAt is non-zero.
func (s *SQLiteStore) MarkAlarmFired(ctx context.Context, alarmID string, nextFireAt time.Time) error {
	if nextFireAt.IsZero() {
		_, err := s.db.ExecContext(ctx, `UPDATE alarms SET status = ? WHERE id = ?`, string(AlarmFired), alarmID)
		if err != nil {
			return fmt.Errorf("mark alarm fired: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE alarms SET fire_at_ms = ? WHERE id = ?`, nextFireAt.UnixMilli(), alarmID)
	if err != nil {
		return fmt.Errorf("reschedule recurring alarm: %w", err)
	}
	return nil
}

// CancelAlarm cancels a pending alarm. Returns false when the alarm was
// not pending (already fired or cancelled).
func (s *SQLiteStore) CancelAlarm(ctx context.Context, alarmID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alarms SET status = ? WHERE id = ? AND status = ?`,
		string(AlarmCancelled), alarmID, string(AlarmPending))
	if err != nil {
		return false, fmt.Errorf("cancel alarm: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// --- conversation archive + window state ---

func (s *SQLiteStore) ArchiveMessage(ctx context.Context, msg HistoryMessage) error {
	if msg.ID == "" {
		msg.ID = "hist-" + uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_messages (id, user_id, direction, kind, content, epoch, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.Direction, msg.Kind, msg.Content, msg.Epoch, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("archive history message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest messages for a user within an epoch,
// most recent first, up to limit.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, epoch, limit int) ([]HistoryMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, direction, kind, content, epoch, created_at_ms FROM history_messages
		 WHERE user_id = ? AND epoch = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		userID, epoch, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []HistoryMessage
	for rows.Next() {
		var m HistoryMessage
		var createdMS int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Direction, &m.Kind, &m.Content, &m.Epoch, &createdMS); err != nil {
			return nil, fmt.Errorf("scan history message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdMS)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ArchivedCount reports the total archived messages for a user across
// all epochs. Cutoff hides, it never deletes; this is how that is
// audited.
func (s *SQLiteStore) ArchivedCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_messages WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count archived messages: %w", err)
	}
	return count, nil
}

// WindowState loads a user's window epoch and round count, creating the
// row at the initial size on first reference.
func (s *SQLiteStore) WindowState(ctx context.Context, userID string, initialRounds int) (epoch, rounds int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT epoch, rounds FROM history_windows WHERE user_id = ?`, userID).Scan(&epoch, &rounds)
	if errors.Is(err, sql.ErrNoRows) {
		epoch, rounds = 0, initialRounds
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO history_windows (user_id, epoch, rounds) VALUES (?, ?, ?)`,
			userID, epoch, rounds)
		if err != nil {
			return 0, 0, fmt.Errorf("create window state: %w", err)
		}
		return epoch, rounds, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load window state: %w", err)
	}
	return epoch, rounds, nil
}

// SetWindowState persists a user's window epoch and round count.
func (s *SQLiteStore) SetWindowState(ctx context.Context, userID string, epoch, rounds int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_windows (user_id, epoch, rounds) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET epoch = excluded.epoch, rounds = excluded.rounds`,
		userID, epoch, rounds)
	if err != nil {
		return fmt.Errorf("set window state: %w", err)
	}
	return nil
}
