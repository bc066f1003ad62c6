// Package store is the persistence boundary for tunnels and the
// read-only user directory.
package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tunneldesk/tunneldesk/pkg/db"
)

// ErrDuplicate is returned by Insert when a unique constraint (tunnel id
// or subdomain) rejects the record. The database index is the only
// arbiter of uniqueness under concurrent requests.
var ErrDuplicate = errors.New("duplicate key")

// TunnelFilter narrows the admin listing. Zero values mean "any".
type TunnelFilter struct {
	UserName string
	Email    string
	Status   *db.Status
}

// TunnelRow is a tunnel joined with its owner's identity, as rendered
// in the admin listing.
type TunnelRow struct {
	db.Tunnel
	UserName  string
	Email     string
	AuthToken string
}

type TunnelStore interface {
	// GetByID returns (nil, nil) when the id is unknown.
	GetByID(ctx context.Context, id int64) (*db.Tunnel, error)
	// GetBySubdomain returns (nil, nil) when no tunnel claims the subdomain.
	GetBySubdomain(ctx context.Context, subdomain string) (*db.Tunnel, error)
	// GetByUser lists one owner's tunnels with the total matching count.
	GetByUser(ctx context.Context, userID int64, offset, limit int) ([]db.Tunnel, int64, error)
	// Query lists tunnels joined with owner identity, filtered and paginated.
	Query(ctx context.Context, filter TunnelFilter, offset, limit int) ([]TunnelRow, int64, error)
	Insert(ctx context.Context, t *db.Tunnel) error
	Update(ctx context.Context, t *db.Tunnel) error
}

type UserDirectory interface {
	// GetUser returns (nil, nil) when the id is unknown.
	GetUser(ctx context.Context, id int64) (*db.User, error)
}
