// Package live keeps the signed-in operator's inventory, sales and
// prescriptions collections mirrored in memory and republishes every
// snapshot to in-process consumers.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/prescriptions"
	"github.com/rxoptima/rxoptima/internal/sales"
	"github.com/rxoptima/rxoptima/internal/session"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// Recorder counts snapshot deliveries and subscription failures.
type Recorder interface {
	SnapshotPushed(collection string)
	SubscribeFailed(collection string)
}

// SessionSource reports identity changes.
type SessionSource interface {
	OnChange(fn func(session.State)) (cancel func())
}

// Subscriber owns the three live collections for the current identity.
// Snapshots are replaced wholesale on each push and must be treated as
// read-only by consumers.
type Subscriber struct {
	store     docstore.Store
	namespace string
	notices   *shared.NoticeBoard
	metrics   Recorder
	logger    *slog.Logger

	inventory     *docstore.Feed[[]inventory.Item]
	sales         *docstore.Feed[[]sales.Sale]
	prescriptions *docstore.Feed[[]prescriptions.Prescription]

	// attachMu serializes Attach and Detach.
	attachMu sync.Mutex
	// pushMu is held shared while a push is applied and exclusively while
	// the generation changes, so no stale push lands after a reset.
	pushMu     sync.RWMutex
	generation atomic.Uint64

	mu       sync.Mutex
	identity string
	unsubs   []docstore.Unsubscribe
	loaded   map[string]bool
}

// NewSubscriber builds a detached Subscriber.
func NewSubscriber(store docstore.Store, namespace string, notices *shared.NoticeBoard, metrics Recorder, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		store:         store,
		namespace:     namespace,
		notices:       notices,
		metrics:       metrics,
		logger:        logger,
		inventory:     docstore.NewFeed([]inventory.Item{}),
		sales:         docstore.NewFeed([]sales.Sale{}),
		prescriptions: docstore.NewFeed([]prescriptions.Prescription{}),
		loaded:        map[string]bool{},
	}
}

// Attach drops any existing subscriptions and opens one per collection for
// identity. Collections that fail to open are reported through notices and
// the first such error is returned; the others stay attached.
func (s *Subscriber) Attach(ctx context.Context, identity string) error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	gen := s.reset(identity)
	scope := docstore.Scope{Namespace: s.namespace, Identity: identity}

	// Subscriptions outlive the caller; they end through their unsubscribe.
	subCtx := context.WithoutCancel(ctx)
	unsubs := make([]docstore.Unsubscribe, 3)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		unsubs[0], err = watch(subCtx, s, inventory.NewCollection(s.store, scope), inventory.CollectionName, s.inventory, gen)
		return err
	})
	g.Go(func() error {
		var err error
		unsubs[1], err = watch(subCtx, s, sales.NewCollection(s.store, scope), sales.CollectionName, s.sales, gen)
		return err
	})
	g.Go(func() error {
		var err error
		unsubs[2], err = watch(subCtx, s, prescriptions.NewCollection(s.store, scope), prescriptions.CollectionName, s.prescriptions, gen)
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	for _, unsub := range unsubs {
		if unsub != nil {
			s.unsubs = append(s.unsubs, unsub)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("live: attach %s: %w", identity, err)
	}
	s.logger.Info("live collections attached", slog.String("identity", identity))
	return nil
}

// Detach cancels every subscription and empties the snapshots.
func (s *Subscriber) Detach() {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	s.reset("")
}

// reset bumps the generation, publishes empty snapshots and cancels the
// previous subscriptions. It returns the new generation.
func (s *Subscriber) reset(identity string) uint64 {
	s.pushMu.Lock()
	gen := s.generation.Add(1)
	s.inventory.Publish([]inventory.Item{})
	s.sales.Publish([]sales.Sale{})
	s.prescriptions.Publish([]prescriptions.Prescription{})
	s.pushMu.Unlock()

	s.mu.Lock()
	old := s.unsubs
	s.unsubs = nil
	s.identity = identity
	s.loaded = map[string]bool{}
	s.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}
	return gen
}

// Bind attaches on sign-in and detaches on sign-out. The returned cancel
// stops following the session without detaching.
func (s *Subscriber) Bind(src SessionSource) (cancel func()) {
	return src.OnChange(func(st session.State) {
		if !st.Ready {
			return
		}
		if st.Identity == nil {
			if s.Identity() != "" {
				s.Detach()
			}
			return
		}
		if st.Identity.ID == s.Identity() {
			return
		}
		if err := s.Attach(context.Background(), st.Identity.ID); err != nil {
			s.logger.Error("live attach failed", slog.Any("error", err))
		}
	})
}

// watch subscribes one collection and republishes its snapshots on feed
// while gen is current.
func watch[T any](ctx context.Context, s *Subscriber, col *docstore.Collection[T], name string, feed *docstore.Feed[[]T], gen uint64) (docstore.Unsubscribe, error) {
	unsub, err := col.Subscribe(ctx, func(values []T) {
		s.pushMu.RLock()
		defer s.pushMu.RUnlock()
		if s.generation.Load() != gen {
			return
		}
		feed.Publish(values)
		s.markLoaded(name)
		if s.metrics != nil {
			s.metrics.SnapshotPushed(name)
		}
	}, func(err error) {
		s.pushMu.RLock()
		defer s.pushMu.RUnlock()
		if s.generation.Load() != gen {
			return
		}
		s.failed(name, err)
	})
	if err != nil {
		s.failed(name, err)
		return nil, err
	}
	return unsub, nil
}

// failed keeps the last snapshot and keeps listening.
func (s *Subscriber) failed(name string, err error) {
	s.logger.Error("live collection error", slog.String("collection", name), slog.Any("error", err))
	s.notices.Error(fmt.Sprintf("Failed to load %s.", name))
	s.markLoaded(name)
	if s.metrics != nil {
		s.metrics.SubscribeFailed(name)
	}
}

func (s *Subscriber) markLoaded(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded[name] = true
}

// Identity returns the attached identity, empty when detached.
func (s *Subscriber) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Loaded reports whether every collection has delivered a snapshot or an
// error since the last Attach.
func (s *Subscriber) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity != "" &&
		s.loaded[inventory.CollectionName] &&
		s.loaded[sales.CollectionName] &&
		s.loaded[prescriptions.CollectionName]
}

// Inventory returns the inventory feed.
func (s *Subscriber) Inventory() *docstore.Feed[[]inventory.Item] { return s.inventory }

// SalesFeed returns the sales feed.
func (s *Subscriber) SalesFeed() *docstore.Feed[[]sales.Sale] { return s.sales }

// PrescriptionsFeed returns the prescriptions feed.
func (s *Subscriber) PrescriptionsFeed() *docstore.Feed[[]prescriptions.Prescription] {
	return s.prescriptions
}

// Items returns the current inventory snapshot.
func (s *Subscriber) Items() []inventory.Item { return s.inventory.Current() }

// Sales returns the current sales snapshot, newest first.
func (s *Subscriber) Sales() []sales.Sale { return s.sales.Current() }

// Prescriptions returns the current prescriptions snapshot, newest first.
func (s *Subscriber) Prescriptions() []prescriptions.Prescription {
	return s.prescriptions.Current()
}

// FindItem looks id up in the current inventory snapshot.
func (s *Subscriber) FindItem(id string) (inventory.Item, bool) {
	return inventory.Find(s.Items(), id)
}

// FindPrescription looks id up in the current prescriptions snapshot.
func (s *Subscriber) FindPrescription(id string) (prescriptions.Prescription, bool) {
	for _, p := range s.Prescriptions() {
		if p.ID == id {
			return p, true
		}
	}
	return prescriptions.Prescription{}, false
}
