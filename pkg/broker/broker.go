// Package broker orchestrates tunnel creation, listing, editing and the
// administrator audit flow. It composes the id allocator, the lifecycle
// state machine, the store and the config materializer; all failures
// come back as values, never panics.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"github.com/tunneldesk/tunneldesk/pkg/ident"
	"github.com/tunneldesk/tunneldesk/pkg/lifecycle"
	"github.com/tunneldesk/tunneldesk/pkg/materialize"
	"github.com/tunneldesk/tunneldesk/pkg/store"
	"gorm.io/datatypes"
)

const (
	maxIDAttempts   = 5
	defaultPageSize = 10
)

type Broker struct {
	tunnels  store.TunnelStore
	users    store.UserDirectory
	config   *materialize.Materializer
	allocate func() int64
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option customises a Broker, mainly for tests.
type Option func(*Broker)

// WithAllocator overrides the id source.
func WithAllocator(allocate func() int64) Option {
	return func(b *Broker) {
		if allocate != nil {
			b.allocate = allocate
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

func New(tunnels store.TunnelStore, users store.UserDirectory, config *materialize.Materializer, opts ...Option) *Broker {
	b := &Broker{
		tunnels:  tunnels,
		users:    users,
		config:   config,
		allocate: ident.Allocate,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    map[int64]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lockTunnel serializes config writes per tunnel id so two approvals of
// the same tunnel cannot interleave their materialization.
func (b *Broker) lockTunnel(id int64) func() {
	b.mu.Lock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// allocateID draws candidate ids until the store reports one unused.
func (b *Broker) allocateID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := b.allocate()
		existing, err := b.tunnels.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return id, nil
		}
		log.Warn().Msgf("tunnel id %d already in use, retrying allocation", id)
	}
	return 0, ErrAllocationExhausted
}

// insert persists a new tunnel, translating a store-level unique
// conflict into the precise reason. The unique index is the arbiter:
// two concurrent creates for one subdomain cannot both pass here.
func (b *Broker) insert(ctx context.Context, tunnel *db.Tunnel) error {
	err := b.tunnels.Insert(ctx, tunnel)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	if existing, lookupErr := b.tunnels.GetByID(ctx, tunnel.ID); lookupErr == nil && existing != nil {
		return ErrIDCollision
	}
	return ErrSubdomainTaken
}

// Create requests a tunnel on behalf of a user. The tunnel starts in
// Audit and carries no public port until an administrator approves it.
func (b *Broker) Create(ctx context.Context, ownerID int64, protocol db.Protocol, name, subdomain string, localPort int) (*db.Tunnel, error) {
	existing, err := b.tunnels.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSubdomainTaken
	}
	id, err := b.allocateID(ctx)
	if err != nil {
		return nil, err
	}
	tunnel := &db.Tunnel{
		ID:         id,
		UserID:     ownerID,
		Protocol:   protocol,
		Name:       name,
		SubDomain:  subdomain,
		LocalPort:  localPort,
		Status:     db.StatusAudit,
		CreateTime: b.now(),
	}
	if err := b.insert(ctx, tunnel); err != nil {
		return nil, err
	}
	log.Info().Msgf("tunnel %d requested by user %d for %s", tunnel.ID, ownerID, subdomain)
	return tunnel, nil
}

// CreateForUser is the trusted admin path: the tunnel is born approved
// and its forwarding entry is written immediately. If materialization
// fails nothing is persisted.
func (b *Broker) CreateForUser(ctx context.Context, ownerID int64, protocol db.Protocol, name, subdomain string, localPort, remotePort int, expiredTime *time.Time, fullURL string, metadata datatypes.JSON) (*db.Tunnel, error) {
	owner, err := b.users.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrOwnerNotFound
	}
	existing, err := b.tunnels.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSubdomainTaken
	}
	id, err := b.allocateID(ctx)
	if err != nil {
		return nil, err
	}
	now := b.now()
	tunnel := &db.Tunnel{
		ID:         id,
		UserID:     ownerID,
		Protocol:   protocol,
		Name:       name,
		SubDomain:  subdomain,
		LocalPort:  localPort,
		Status:     db.StatusAudit,
		Metadata:   metadata,
		CreateTime: now,
	}
	if err := lifecycle.Approve(tunnel, remotePort, expiredTime, fullURL, now); err != nil {
		return nil, err
	}
	unlock := b.lockTunnel(tunnel.ID)
	defer unlock()
	if err := b.config.Write(tunnel, owner, remotePort); err != nil {
		return nil, err
	}
	if err := b.insert(ctx, tunnel); err != nil {
		return nil, err
	}
	log.Info().Msgf("tunnel %d created approved for user %d on %s", tunnel.ID, ownerID, subdomain)
	return tunnel, nil
}

// Edit renames a tunnel. Subdomain, id and status are never touched.
// Returns false when the id is unknown.
func (b *Broker) Edit(ctx context.Context, id int64, newName string) (bool, error) {
	tunnel, err := b.tunnels.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if tunnel == nil {
		return false, nil
	}
	tunnel.Name = newName
	if err := b.tunnels.Update(ctx, tunnel); err != nil {
		return false, err
	}
	return true, nil
}

// List returns one page of the owner's tunnels and the total count of
// all of them.
func (b *Broker) List(ctx context.Context, ownerID int64, page, pageSize int) ([]db.Tunnel, int64, error) {
	offset, limit := pageBounds(page, pageSize)
	return b.tunnels.GetByUser(ctx, ownerID, offset, limit)
}

// ListAll is the admin listing: tunnels joined with owner identity,
// filtered by user name, email and status.
func (b *Broker) ListAll(ctx context.Context, filter store.TunnelFilter, page, pageSize int) ([]store.TunnelRow, int64, error) {
	offset, limit := pageBounds(page, pageSize)
	return b.tunnels.Query(ctx, filter, offset, limit)
}

// Audit applies an administrator decision. Unknown tunnel or owner is a
// no-op false with no store write and no config write. Approval
// materializes the forwarding entry first and only then persists the
// record; a failed write aborts the whole transition. Re-approving an
// already approved tunnel overwrites its entry.
func (b *Broker) Audit(ctx context.Context, tunnelID, ownerID int64, decision db.Status, remotePort int, expiredTime *time.Time) (bool, error) {
	tunnel, err := b.tunnels.GetByID(ctx, tunnelID)
	if err != nil {
		return false, err
	}
	owner, err := b.users.GetUser(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if tunnel == nil || owner == nil {
		return false, nil
	}
	switch decision {
	case db.StatusPass:
		if err := lifecycle.Approve(tunnel, remotePort, expiredTime, "", b.now()); err != nil {
			return false, err
		}
		unlock := b.lockTunnel(tunnel.ID)
		defer unlock()
		if err := b.config.Write(tunnel, owner, remotePort); err != nil {
			log.Error().Msgf("materialization failed for tunnel %d: %v", tunnel.ID, err)
			return false, err
		}
	case db.StatusRejected:
		if err := lifecycle.Reject(tunnel); err != nil {
			return false, err
		}
	default:
		return false, errors.Errorf("invalid audit decision %s", decision)
	}
	if err := b.tunnels.Update(ctx, tunnel); err != nil {
		return false, err
	}
	log.Info().Msgf("tunnel %d audited: %s", tunnel.ID, tunnel.Status)
	return true, nil
}

// pageBounds guards the offset arithmetic: page below 1 clamps to the
// first page, non-positive page sizes fall back to the default.
func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return pageSize * (page - 1), pageSize
}
