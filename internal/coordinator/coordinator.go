// Package coordinator drives the engine's network-facing flows: publishing
// the local user's signed documents, fetching and merging subscribed users'
// content, handle discovery, and draining the sync queue.
package coordinator

import (
	"sync"
	"time"

	"github.com/tagmesh/tagmesh/internal/contentstore"
	"github.com/tagmesh/tagmesh/internal/identity"
	"github.com/tagmesh/tagmesh/internal/logging"
	"github.com/tagmesh/tagmesh/internal/metrics"
	"github.com/tagmesh/tagmesh/internal/service"
)

// Name prefixes in the mutable name system. A user's own content is
// published under the bare name key; discovery records get a derived name
// so handle lookups need no prior knowledge of the publisher.
const (
	lookupNamePrefix   = "lookup:"
	identityNamePrefix = "id:"
)

type Coordinator struct {
	logger  logging.Logger
	users   service.UserService
	tags    service.TagService
	subs    service.SubscriptionService
	queue   service.SyncService
	cache   service.CacheService
	store   contentstore.ContentStore
	names   contentstore.NameResolver
	metrics *metrics.Collector
	now     func() int64

	mu sync.RWMutex
	kp *identity.Keypair
}

type Deps struct {
	Logger        logging.Logger
	Users         service.UserService
	Tags          service.TagService
	Subscriptions service.SubscriptionService
	Queue         service.SyncService
	Cache         service.CacheService
	Store         contentstore.ContentStore
	Names         contentstore.NameResolver
	Metrics       *metrics.Collector
}

func New(d Deps) *Coordinator {
	return &Coordinator{
		logger:  d.Logger,
		users:   d.Users,
		tags:    d.Tags,
		subs:    d.Subscriptions,
		queue:   d.Queue,
		cache:   d.Cache,
		store:   d.Store,
		names:   d.Names,
		metrics: d.Metrics,
		now:     nowMillis,
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// SetKeypair installs the unlocked signing keypair. Publishing operations
// fail with common.ErrNoIdentity until this is called.
func (c *Coordinator) SetKeypair(kp *identity.Keypair) {
	c.mu.Lock()
	c.kp = kp
	c.mu.Unlock()
}

func (c *Coordinator) keypair() *identity.Keypair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kp
}

// Unlocked reports whether a signing keypair is installed.
func (c *Coordinator) Unlocked() bool {
	return c.keypair() != nil
}
