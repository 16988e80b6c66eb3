package proactive

import (
	"context"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/rules"
)

// Notifier receives dirty keys
type Notifier interface {
	Notify(keys []string)
}

// Service turns rule actions into stored nudges.
type Service struct {
	store     *Store
	generator *NudgeGenerator
	notifier  Notifier
	now       func() time.Time
	log       *logging.Logger
}

// NewService creates a nudge service. notifier may be nil.
func NewService(store *Store, generator *NudgeGenerator, notifier Notifier) *Service {
	return &Service{
		store:     store,
		generator: generator,
		notifier:  notifier,
		now:       generator.now,
		log:       logging.For("proactive"),
	}
}

// Handle stores a nudge for every "nudge" action and returns the ones that
// were new. Other actions are ignored.
func (s *Service) Handle(ctx context.Context, actions []rules.Action) ([]Nudge, error) {
	var created []Nudge
	for _, a := range actions {
		n := s.generator.FromAction(a)
		if n == nil {
			continue
		}
		inserted, err := s.store.Save(ctx, n)
		if err != nil {
			return created, err
		}
		if !inserted {
			s.log.WithFields(map[string]interface{}{
				"rule":   n.RuleID,
				"source": n.SourceID,
			}).Debug("Nudge already raised")
			continue
		}
		s.log.WithFields(map[string]interface{}{
			"rule":    n.RuleID,
			"type":    n.Type,
			"urgency": n.Urgency,
			"status":  n.Status,
		}).Info("Nudge raised: %s", n.Title)
		created = append(created, *n)
	}

	if len(created) > 0 {
		s.notify()
	}
	return created, nil
}

// List returns stored nudges
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Nudge, error) {
	return s.store.List(ctx, opts)
}

// Dismiss marks a nudge dismissed and notifies listeners.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	if err := s.store.Dismiss(ctx, id, s.now()); err != nil {
		return err
	}
	s.notify()
	return nil
}

// ReleaseQueued moves quiet-hour nudges to pending once quiet hours end.
// It does nothing while quiet hours are still in effect.
func (s *Service) ReleaseQueued(ctx context.Context) (int64, error) {
	if s.generator.IsQuietHours() {
		return 0, nil
	}
	n, err := s.store.ReleaseQueued(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("Released %d queued nudges", n)
		s.notify()
	}
	return n, nil
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Notify([]string{core.KeyNudges})
	}
}
