// Package history manages the visible conversation window over the
// append-only archive. The window grows monotonically within an epoch
// and a cutoff hides older turns by advancing the epoch; nothing is
// ever deleted.
package history

import (
	"context"
	"sync"

	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/memory"
)

// Store is the persistence the manager needs, satisfied by
// memory.SQLiteStore.
type Store interface {
	ArchiveMessage(ctx context.Context, msg memory.HistoryMessage) error
	RecentMessages(ctx context.Context, userID string, epoch, limit int) ([]memory.HistoryMessage, error)
	WindowState(ctx context.Context, userID string, initialRounds int) (epoch, rounds int, err error)
	SetWindowState(ctx context.Context, userID string, epoch, rounds int) error
}

type Manager struct {
	store           Store
	initialRounds   int
	growthIncrement int
	maxRounds       int

	mu sync.Mutex
}

func NewManager(store Store, initialRounds, growthIncrement, maxRounds int) *Manager {
	if initialRounds <= 0 {
		initialRounds = 3
	}
	if growthIncrement <= 0 {
		growthIncrement = 3
	}
	if maxRounds < initialRounds {
		maxRounds = initialRounds * 10
	}
	return &Manager{
		store:           store,
		initialRounds:   initialRounds,
		growthIncrement: growthIncrement,
		maxRounds:       maxRounds,
	}
}

// Record archives a turn into the user's current epoch.
func (m *Manager) Record(ctx context.Context, userID, direction, kind, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, _, err := m.store.WindowState(ctx, userID, m.initialRounds)
	if err != nil {
		return err
	}
	return m.store.ArchiveMessage(ctx, memory.HistoryMessage{
		UserID:    userID,
		Direction: direction,
		Kind:      kind,
		Content:   content,
		Epoch:     epoch,
	})
}

// Window returns the user's visible turns, oldest first. A round is an
// inbound message plus its response, so the window holds up to
// rounds*2 messages.
func (m *Manager) Window(ctx context.Context, userID string) ([]memory.HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, rounds, err := m.store.WindowState(ctx, userID, m.initialRounds)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.RecentMessages(ctx, userID, epoch, rounds*2)
	if err != nil {
		return nil, err
	}
	// RecentMessages is newest first; callers want chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Extend grows the window by one increment when the current view is
// judged insufficient. Growth is monotonic within an epoch and capped;
// the window never shrinks except at cutoff. Returns the new round
// count and whether the window actually grew.
func (m *Manager) Extend(ctx context.Context, userID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, rounds, err := m.store.WindowState(ctx, userID, m.initialRounds)
	if err != nil {
		return 0, false, err
	}
	if rounds >= m.maxRounds {
		return rounds, false, nil
	}
	grown := rounds + m.growthIncrement
	if grown > m.maxRounds {
		grown = m.maxRounds
	}
	if err := m.store.SetWindowState(ctx, userID, epoch, grown); err != nil {
		return 0, false, err
	}
	logger.DebugCF("history", "window extended", map[string]interface{}{
		"user":   userID,
		"rounds": grown,
	})
	return grown, true, nil
}

// Cutoff starts a fresh window: the epoch advances so prior turns drop
// out of view, and the round count resets to the initial size. The
// archive keeps everything.
func (m *Manager) Cutoff(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, _, err := m.store.WindowState(ctx, userID, m.initialRounds)
	if err != nil {
		return err
	}
	if err := m.store.SetWindowState(ctx, userID, epoch+1, m.initialRounds); err != nil {
		return err
	}
	logger.InfoCF("history", "window cutoff", map[string]interface{}{
		"user":  userID,
		"epoch": epoch + 1,
	})
	return nil
}

// Rounds reports the user's current window size in rounds.
func (m *Manager) Rounds(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rounds, err := m.store.WindowState(ctx, userID, m.initialRounds)
	return rounds, err
}
