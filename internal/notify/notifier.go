// Package notify sends return-visit alerts for identified visitors.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"vkanalytics/internal/metrics"
	"vkanalytics/internal/pkg/async"
	"vkanalytics/internal/visitors"
)

// DefaultCooldown is the minimum time between two alerts for one visitor.
const DefaultCooldown = time.Hour

// ReturnVisit is the alert payload handed to every channel.
type ReturnVisit struct {
	VisitorID  string
	Email      string
	Name       string
	ReturnedAt time.Time
}

// Label is "Name (email)" or the bare email.
func (rv ReturnVisit) Label() string {
	if rv.Name != "" {
		return fmt.Sprintf("%s (%s)", rv.Name, rv.Email)
	}
	return rv.Email
}

// Text is the one-line alert body shared by the channels.
func (rv ReturnVisit) Text() string {
	return fmt.Sprintf("%s returned to the site just now. Visitor ID: %s", rv.Label(), rv.VisitorID)
}

// Channel delivers one alert. Implementations must honour ctx.
type Channel interface {
	Name() string
	Send(ctx context.Context, rv ReturnVisit) error
}

// ReturnVisitNotifier applies the cooldown policy and fans alerts out to
// its channels.
type ReturnVisitNotifier struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	channels  []Channel
	cooldown  time.Duration
	now       func() time.Time
	enabled   bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customizes a ReturnVisitNotifier.
type Option func(*ReturnVisitNotifier)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(n *ReturnVisitNotifier) {
		if d > 0 {
			n.cooldown = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(n *ReturnVisitNotifier) { n.now = now }
}

// WithChannels replaces the channel list.
func WithChannels(channels ...Channel) Option {
	return func(n *ReturnVisitNotifier) { n.channels = channels }
}

// Disabled turns MaybeNotify into a no-op, for schemas without the
// return_visit_notified_at column.
func Disabled() Option {
	return func(n *ReturnVisitNotifier) { n.enabled = false }
}

// NewReturnVisitNotifier builds a notifier. A nil dbManager yields a
// notifier that never fires.
func NewReturnVisitNotifier(dbManager cartridge.DBManager, logger *slog.Logger, opts ...Option) *ReturnVisitNotifier {
	n := &ReturnVisitNotifier{
		dbManager: dbManager,
		logger:    logger,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		enabled:   dbManager != nil,
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Channels lists the configured channel names.
func (n *ReturnVisitNotifier) Channels() []string {
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// MaybeNotify fires the alert fan-out when visitorID has an email on file
// and has not been alerted within the cooldown. The stamp is written after
// the fan-out whatever the channels returned. It reports whether a fan-out
// happened. Overlapping calls for the same visitor collapse into one.
func (n *ReturnVisitNotifier) MaybeNotify(ctx context.Context, visitorID string) (bool, error) {
	if !n.enabled || visitorID == "" {
		return false, nil
	}

	if !n.acquire(visitorID) {
		return false, nil
	}
	defer n.release(visitorID)

	db := n.dbManager.GetConnection()
	state, err := visitors.ReturnVisitState(db, visitorID)
	if errors.Is(err, visitors.ErrVisitorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if state.Email == "" {
		return false, nil
	}

	now := n.now().UTC()
	if last := state.ReturnVisitNotifiedAt; last != nil && now.Sub(last.UTC()) <= n.cooldown {
		return false, nil
	}

	n.fanOut(ctx, ReturnVisit{
		VisitorID:  visitorID,
		Email:      state.Email,
		Name:       state.Name,
		ReturnedAt: now,
	})

	err = sqlite.PerformWrite(n.logger, db, func(tx *gorm.DB) error {
		return visitors.StampReturnVisit(tx, visitorID, now)
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

func (n *ReturnVisitNotifier) fanOut(ctx context.Context, rv ReturnVisit) {
	if len(n.channels) == 0 {
		n.logger.Debug("Return visit detected, no channels configured", slog.String("visitor_id", rv.VisitorID))
		return
	}

	tasks := make([]async.Task, len(n.channels))
	for i, ch := range n.channels {
		ch := ch
		tasks[i] = async.Task{
			Name: ch.Name(),
			Execute: func() (interface{}, error) {
				return nil, ch.Send(ctx, rv)
			},
		}
	}

	results := async.NewPool(len(tasks)).Execute(ctx, tasks)
	for _, ch := range n.channels {
		res, ok := results[ch.Name()]
		switch {
		case !ok:
			metrics.Notifications.WithLabelValues(ch.Name(), "cancelled").Inc()
			n.logger.Warn("Return visit notification not sent", slog.String("channel", ch.Name()))
		case res.Err != nil:
			metrics.Notifications.WithLabelValues(ch.Name(), "failed").Inc()
			n.logger.Error("Return visit notification failed",
				slog.String("channel", ch.Name()),
				slog.String("visitor_id", rv.VisitorID),
				slog.Any("error", res.Err))
		default:
			metrics.Notifications.WithLabelValues(ch.Name(), "sent").Inc()
		}
	}
}

func (n *ReturnVisitNotifier) acquire(visitorID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.inFlight[visitorID]; busy {
		return false
	}
	n.inFlight[visitorID] = struct{}{}
	return true
}

func (n *ReturnVisitNotifier) release(visitorID string) {
	n.mu.Lock()
	delete(n.inFlight, visitorID)
	n.mu.Unlock()
}
