package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/kiwid/pkg/logger"
)

// Service is the memory facade handed to the tool layer and the prompt
// builder. It owns worth-nothing policy decisions (candidate limits,
// recall caps) so the store stays a plain persistence layer.
type Service struct {
	store          *SQLiteStore
	scorer         Scorer
	maxRecall      int
	candidateLimit int
	draftTTL       time.Duration
}

func NewService(store *SQLiteStore, scorer Scorer, maxRecall, candidateLimit int, draftTTL time.Duration) *Service {
	if scorer == nil {
		scorer = NewEmbeddingScorer()
	}
	if maxRecall <= 0 {
		maxRecall = 6
	}
	if candidateLimit <= 0 {
		candidateLimit = 200
	}
	if draftTTL <= 0 {
		draftTTL = 10 * time.Minute
	}
	return &Service{
		store:          store,
		scorer:         scorer,
		maxRecall:      maxRecall,
		candidateLimit: candidateLimit,
		draftTTL:       draftTTL,
	}
}

// Remember appends a long-term entry. The service does not judge
// worthiness; callers decide what to keep.
func (s *Service) Remember(ctx context.Context, userID, content, source, kind string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("refusing to remember empty content")
	}
	entry, err := s.store.AppendEntry(ctx, Entry{
		UserID:  userID,
		Content: content,
		Source:  source,
		Kind:    EntryKind(kind),
	})
	if err != nil {
		return err
	}
	logger.DebugCF("memory", "entry saved", map[string]interface{}{
		"id":   entry.ID,
		"user": userID,
		"kind": string(entry.Kind),
	})
	return nil
}

// Retrieve returns up to k entries relevant to the query, ranked by the
// scorer. Scorer failures degrade to recency order rather than failing
// the turn.
func (s *Service) Retrieve(ctx context.Context, userID, query string, k int) ([]Entry, error) {
	if k <= 0 || k > s.maxRecall {
		k = s.maxRecall
	}
	candidates, err := s.store.ListEntries(ctx, userID, s.candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked, err := s.scorer.Score(ctx, query, candidates)
	if err != nil {
		logger.WarnCF("memory", "scorer failed, falling back to recency", map[string]interface{}{
			"user":  userID,
			"error": err.Error(),
		})
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	byID := make(map[string]Entry, len(candidates))
	for _, e := range candidates {
		byID[e.ID] = e
	}
	var out []Entry
	for _, id := range ranked {
		if e, ok := byID[id]; ok {
			out = append(out, e)
			if len(out) == k {
				break
			}
		}
	}
	return out, nil
}

func (s *Service) AddFollowup(ctx context.Context, userID, content string) (string, error) {
	return s.store.AddFollowup(ctx, userID, content)
}

func (s *Service) ResolveFollowup(ctx context.Context, userID, followupID string) error {
	return s.store.ResolveFollowup(ctx, userID, followupID)
}

func (s *Service) PendingFollowups(ctx context.Context, userID string) ([]Reminder, error) {
	return s.store.PendingFollowups(ctx, userID)
}

// CreateDraft stages an on-behalf-of-user message and returns its id.
// The draft is never sent unless the user later confirms it.
func (s *Service) CreateDraft(ctx context.Context, userID, channel, chatID, content string) (string, error) {
	draft, err := s.store.CreateDraft(ctx, userID, channel, chatID, content, s.draftTTL)
	if err != nil {
		return "", err
	}
	logger.InfoCF("memory", "draft staged", map[string]interface{}{
		"id":      draft.ID,
		"user":    userID,
		"expires": draft.ExpiresAt.Format(time.RFC3339),
	})
	return draft.ID, nil
}

// ConfirmDraft finalizes a pending draft for sending.
func (s *Service) ConfirmDraft(ctx context.Context, userID, draftID string) (Draft, error) {
	return s.store.TakeDraft(ctx, userID, draftID, DraftConfirmed)
}

// DiscardDraft drops a pending draft.
func (s *Service) DiscardDraft(ctx context.Context, userID, draftID string) (Draft, error) {
	return s.store.TakeDraft(ctx, userID, draftID, DraftDiscarded)
}

// SweepExpiredDrafts expires overdue pending drafts and returns them so
// owners can be told their draft lapsed.
func (s *Service) SweepExpiredDrafts(ctx context.Context) ([]Draft, error) {
	return s.store.ExpireDrafts(ctx, time.Now())
}
