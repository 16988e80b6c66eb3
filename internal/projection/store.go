package projection

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/logging"
)

// Notifier receives the dirty keys of each applied batch.
type Notifier interface {
	Notify(keys []string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(keys []string)

func (f NotifierFunc) Notify(keys []string) { f(keys) }

// DedupeWindow is how many recent event ids ApplyEvents remembers. Older ids
// are forgotten in arrival order.
const DedupeWindow = 4096

// Store holds the projections for one process.
type Store struct {
	mu       sync.RWMutex
	overview Overview
	queue    []QueueItem
	contexts map[string]CanvasContext
	applied  map[string]struct{}
	order    []string // ring of applied ids, oldest at next
	next     int
	notifier Notifier
	log      *logging.Logger
}

// NewStore creates a store seeded from snap.
func NewStore(snap Snapshot) *Store {
	s := &Store{
		applied: make(map[string]struct{}, DedupeWindow),
		order:   make([]string, 0, DedupeWindow),
		log:     logging.For("projection"),
	}
	s.load(snap)
	return s
}

func (s *Store) load(snap Snapshot) {
	c := snap.clone()
	s.overview = c.Overview
	s.queue = c.Queue
	s.contexts = c.Contexts
	if s.contexts == nil {
		s.contexts = make(map[string]CanvasContext)
	}
	sortQueue(s.queue)
}

// SetNotifier installs the receiver of dirty-key batches.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Overview returns a copy of the overview.
func (s *Store) Overview() Overview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overview.clone()
}

// Queue returns the items in category, or all items for "" or "all".
// Categories match case-insensitively. Items are ordered by priority
// descending, then id.
func (s *Store) Queue(category string) []QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := category == "" || strings.EqualFold(category, "all")
	fold := cases.Fold()
	want := fold.String(category)

	out := make([]QueueItem, 0, len(s.queue))
	for _, q := range s.queue {
		if all || fold.String(q.Category) == want {
			out = append(out, q.clone())
		}
	}
	return out
}

// QueueItem returns one item by id.
func (s *Store) QueueItem(id string) (QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.queue[i].clone(), nil
	}
	return QueueItem{}, fmt.Errorf("%s: %w", id, core.ErrQueueItemNotFound)
}

// Context returns the canvas context of a queue item.
func (s *Store) Context(queueItemID string) (CanvasContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[queueItemID]
	if !ok {
		return CanvasContext{}, fmt.Errorf("%s: %w", queueItemID, core.ErrContextNotFound)
	}
	return c.clone(), nil
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Overview: s.overview, Queue: s.queue, Contexts: s.contexts}.clone()
}

// PushQueueItem adds an item or replaces the one with the same id.
func (s *Store) PushQueueItem(item QueueItem) {
	s.mu.Lock()
	s.push(item)
	s.mu.Unlock()
	s.notify([]string{core.KeyQueue})
}

// RemoveQueueItem removes an item and its context.
func (s *Store) RemoveQueueItem(id string) error {
	s.mu.Lock()
	ok := s.remove(id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrQueueItemNotFound)
	}
	s.notify([]string{core.KeyQueue})
	return nil
}

// ApplyEvents folds a batch of events and returns the sorted dirty keys.
// Events whose id is among the last DedupeWindow folded ids are skipped. The notifier sees the
// batch once, and only when something changed.
func (s *Store) ApplyEvents(events []core.EventRecord) []string {
	dirty := make(map[string]struct{})

	s.mu.Lock()
	for _, ev := range events {
		if ev.ID != "" {
			if _, seen := s.applied[ev.ID]; seen {
				s.log.WithField("event", ev.ID).Debug("Skipping already applied event")
				continue
			}
			s.remember(ev.ID)
		}
		for _, k := range s.fold(ev) {
			dirty[k] = struct{}{}
		}
	}
	s.mu.Unlock()

	keys := make([]string, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		s.notify(keys)
	}
	return keys
}

// remember records id, evicting the oldest id once the window is full.
func (s *Store) remember(id string) {
	s.applied[id] = struct{}{}
	if len(s.order) < cap(s.order) {
		s.order = append(s.order, id)
		return
	}
	delete(s.applied, s.order[s.next])
	s.order[s.next] = id
	s.next = (s.next + 1) % len(s.order)
}

// DueItems returns the queue items that carry a due date.
func (s *Store) DueItems() []QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []QueueItem
	for _, q := range s.queue {
		if q.DueDate != "" {
			out = append(out, q.clone())
		}
	}
	return out
}

func (s *Store) notify(keys []string) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.Notify(keys)
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.queue {
		if s.queue[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) push(item QueueItem) {
	item = item.clone()
	if item.PriorityScore < 0 {
		item.PriorityScore = 0
	}
	if item.PriorityScore > 100 {
		item.PriorityScore = 100
	}
	if i := s.indexOf(item.ID); i >= 0 {
		s.queue[i] = item
	} else {
		s.queue = append(s.queue, item)
	}
	sortQueue(s.queue)
}

func (s *Store) remove(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	delete(s.contexts, id)
	return true
}

func sortQueue(q []QueueItem) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].PriorityScore != q[j].PriorityScore {
			return q[i].PriorityScore > q[j].PriorityScore
		}
		return q[i].ID < q[j].ID
	})
}
