// Package scheduler delivers timer events. Alarms persist in the store,
// so firings missed while the process was down are delivered immediately
// on the first poll after startup.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/dotsetgreg/kiwid/pkg/bus"
	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/memory"
)

// Store is the alarm persistence the scheduler needs, satisfied by
// memory.SQLiteStore.
type Store interface {
	InsertAlarm(ctx context.Context, alarm memory.Alarm) (memory.Alarm, error)
	DueAlarms(ctx context.Context, now time.Time, limit int) ([]memory.Alarm, error)
	MarkAlarmFired(ctx context.Context, alarmID string, nextFireAt time.Time) error
	CancelAlarm(ctx context.Context, alarmID string) (bool, error)
}

// Scheduler polls the store for due alarms and publishes each as an
// alarm-kind inbound message. Fired alarms enter the same queue as user
// input, so ownership transfers to the router and ordering with chat
// messages is the queue's.
type Scheduler struct {
	store        Store
	messageBus   *bus.MessageBus
	pollInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, messageBus *bus.MessageBus, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Scheduler{
		store:        store,
		messageBus:   messageBus,
		pollInterval: pollInterval,
	}
}

// ScheduleAt registers a one-shot alarm. A fire time in the past is
// accepted and fires on the next poll.
func (s *Scheduler) ScheduleAt(ctx context.Context, userID string, fireAt time.Time, payload string) (string, error) {
	alarm, err := s.store.InsertAlarm(ctx, memory.Alarm{
		UserID:  userID,
		FireAt:  fireAt,
		Payload: payload,
	})
	if err != nil {
		return "", err
	}
	logger.InfoCF("scheduler", "alarm scheduled", map[string]interface{}{
		"id":      alarm.ID,
		"user":    userID,
		"fire_at": fireAt.Format(time.RFC3339),
	})
	return alarm.ID, nil
}

// ScheduleCron registers a recurring alarm from a cron expression.
func (s *Scheduler) ScheduleCron(ctx context.Context, userID, expr, payload string) (string, error) {
	expr = strings.TrimSpace(expr)
	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return "", fmt.Errorf("compute first firing: %w", err)
	}

	alarm, err := s.store.InsertAlarm(ctx, memory.Alarm{
		UserID:   userID,
		FireAt:   next,
		Payload:  payload,
		CronExpr: expr,
	})
	if err != nil {
		return "", err
	}
	logger.InfoCF("scheduler", "recurring alarm scheduled", map[string]interface{}{
		"id":   alarm.ID,
		"user": userID,
		"cron": expr,
	})
	return alarm.ID, nil
}

// Cancel cancels a pending alarm. Already-fired alarm events stay in the
// inbound queue; cancellation only stops future firings.
func (s *Scheduler) Cancel(ctx context.Context, alarmID string) (bool, error) {
	return s.store.CancelAlarm(ctx, alarmID)
}

// Start launches the poll loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// immediate first poll delivers anything that came due while down
	s.fireDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	due, err := s.store.DueAlarms(ctx, time.Now(), 50)
	if err != nil {
		logger.ErrorCF("scheduler", "poll failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, alarm := range due {
		if !s.deliver(alarm) {
			// queue full; leave the alarm pending and retry next poll
			continue
		}

		next := time.Time{}
		if alarm.CronExpr != "" {
			next, err = gronx.NextTick(alarm.CronExpr, false)
			if err != nil {
				logger.ErrorCF("scheduler", "recurrence computation failed, alarm finalized", map[string]interface{}{
					"id":    alarm.ID,
					"cron":  alarm.CronExpr,
					"error": err.Error(),
				})
				next = time.Time{}
			}
		}
		if err := s.store.MarkAlarmFired(ctx, alarm.ID, next); err != nil {
			logger.ErrorCF("scheduler", "failed to finalize fired alarm", map[string]interface{}{
				"id":    alarm.ID,
				"error": err.Error(),
			})
		}
	}
}

func (s *Scheduler) deliver(alarm memory.Alarm) bool {
	msg := bus.InboundMessage{
		ID:        "msg-" + uuid.NewString(),
		UserID:    alarm.UserID,
		Kind:      bus.KindAlarm,
		Content:   alarm.Payload,
		Timestamp: time.Now(),
	}
	ok := s.messageBus.PublishInbound(msg)
	if ok {
		logger.InfoCF("scheduler", "alarm fired", map[string]interface{}{
			"id":   alarm.ID,
			"user": alarm.UserID,
		})
	}
	return ok
}
