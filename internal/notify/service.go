// Package notify implements the notification service: user-visible notes
// with optional reminder times. Due reminders surface into the agent's next
// system prompt. Notifications are persisted to JSON.
//
// Two reminder kinds are supported:
//   - "at":   one-time reminder at a specific timestamp
//   - "cron": recurring reminder (5-field cron expression, parsed by gronx)
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Notification is one stored notification.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	// Reminder fields. Zero RemindAt and empty CronExpr mean the
	// notification is immediately active.
	RemindAt  time.Time `json:"remind_at,omitempty"`
	CronExpr  string    `json:"cron_expr,omitempty"`
	NextFire  time.Time `json:"next_fire,omitempty"`
	Dismissed bool      `json:"dismissed"`
}

// Active reports whether the notification should surface now.
func (n *Notification) Active(now time.Time) bool {
	if n.Dismissed {
		return false
	}
	if !n.NextFire.IsZero() {
		return !now.Before(n.NextFire)
	}
	return true
}

type store struct {
	Version       int            `json:"version"`
	Notifications []Notification `json:"notifications"`
}

// Service owns the notification store and the reminder wake-up loop.
type Service struct {
	mu        sync.Mutex
	storePath string
	store     store
	wake      chan struct{}
	stop      chan struct{}
	stopped   bool
}

// NewService loads (or creates) the notification store at path.
func NewService(storePath string) (*Service, error) {
	s := &Service{
		storePath: storePath,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	return s, nil
}

// Add stores a notification. remindAt and cronExpr are both optional;
// cronExpr takes precedence when both are set.
func (s *Service) Add(message string, remindAt time.Time, cronExpr string) (*Notification, error) {
	if message == "" {
		return nil, fmt.Errorf("notification message must not be empty")
	}
	if cronExpr != "" {
		gx := gronx.New()
		if !gx.IsValid(cronExpr) {
			return nil, fmt.Errorf("invalid cron expression: %s", cronExpr)
		}
	}

	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now(),
		RemindAt:  remindAt,
		CronExpr:  cronExpr,
	}
	n.NextFire = nextFire(&n, time.Now())

	s.mu.Lock()
	s.store.Notifications = append(s.store.Notifications, n)
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.kick()
	slog.Info("notification added", "id", n.ID, "remind_at", n.RemindAt, "cron", n.CronExpr)
	return &n, nil
}

// List returns all non-dismissed notifications, oldest first.
func (s *Service) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, 0, len(s.store.Notifications))
	for _, n := range s.store.Notifications {
		if !n.Dismissed {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Active returns the notifications that should surface into the system
// prompt right now. Recurring reminders roll their next fire time forward
// once surfaced.
func (s *Service) Active() []Notification {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var active []Notification
	changed := false
	for i := range s.store.Notifications {
		n := &s.store.Notifications[i]
		if !n.Active(now) {
			continue
		}
		active = append(active, *n)

		if n.CronExpr != "" {
			n.NextFire = nextFire(n, now)
			changed = true
		}
	}
	if changed {
		if err := s.save(); err != nil {
			slog.Warn("notification save failed", "error", err)
		}
	}
	return active
}

// Dismiss marks a notification as handled.
func (s *Service) Dismiss(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.store.Notifications {
		if s.store.Notifications[i].ID != id {
			continue
		}
		s.store.Notifications[i].Dismissed = true
		return s.save()
	}
	return fmt.Errorf("notification %s not found", id)
}

// NextWake returns the earliest pending fire time, or zero when nothing is
// scheduled.
func (s *Service) NextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	now := time.Now()
	for _, n := range s.store.Notifications {
		if n.Dismissed || n.NextFire.IsZero() || n.NextFire.Before(now) {
			continue
		}
		if earliest.IsZero() || n.NextFire.Before(earliest) {
			earliest = n.NextFire
		}
	}
	return earliest
}

// Run drives the reminder wake-up loop until Stop. onDue is called with the
// notifications that became due since the last tick.
func (s *Service) Run(onDue func([]Notification)) {
	var last time.Time
	for {
		next := s.NextWake()
		var timer <-chan time.Time
		if !next.IsZero() {
			timer = time.After(time.Until(next))
		}

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer:
			due := s.dueSince(last)
			last = time.Now()
			if len(due) > 0 && onDue != nil {
				onDue(due)
			}
		}
	}
}

// Stop halts the wake-up loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

func (s *Service) dueSince(since time.Time) []Notification {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Notification
	for _, n := range s.store.Notifications {
		if n.Dismissed || n.NextFire.IsZero() {
			continue
		}
		if n.NextFire.After(since) && !n.NextFire.After(now) {
			due = append(due, n)
		}
	}
	return due
}

// kick wakes the Run loop so it recomputes its timer.
func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// nextFire computes when a notification should next surface.
func nextFire(n *Notification, now time.Time) time.Time {
	if n.CronExpr != "" {
		next, err := gronx.NextTickAfter(n.CronExpr, now, false)
		if err != nil {
			slog.Error("notify: failed to compute next fire", "expr", n.CronExpr, "error", err)
			return time.Time{}
		}
		return next
	}
	if !n.RemindAt.IsZero() {
		return n.RemindAt
	}
	return time.Time{}
}

// --- Persistence ---

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.store = store{Version: 1}
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.store)
}

func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
