package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tunneldesk/tunneldesk/pkg/db"
)

// Mem is an in-memory TunnelStore and UserDirectory, used by the mem://
// DSN for throwaway deployments and by tests. The mutex makes Insert a
// single admission decision, mirroring the SQL unique indexes.
type Mem struct {
	mu      sync.Mutex
	tunnels map[int64]db.Tunnel
	users   map[int64]db.User
}

func NewMem() *Mem {
	return &Mem{
		tunnels: map[int64]db.Tunnel{},
		users:   map[int64]db.User{},
	}
}

var _ TunnelStore = (*Mem)(nil)
var _ UserDirectory = (*Mem)(nil)

// AddUser seeds the user directory.
func (m *Mem) AddUser(u db.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Mem) GetByID(_ context.Context, id int64) (*db.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tunnels[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *Mem) GetBySubdomain(_ context.Context, subdomain string) (*db.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tunnels {
		if t.SubDomain == subdomain {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (m *Mem) GetByUser(_ context.Context, userID int64, offset, limit int) ([]db.Tunnel, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []db.Tunnel
	for _, t := range m.tunnels {
		if t.UserID == userID {
			matched = append(matched, t)
		}
	}
	sortTunnels(matched)
	total := int64(len(matched))
	return slicePage(matched, offset, limit), total, nil
}

func (m *Mem) Query(_ context.Context, filter TunnelFilter, offset, limit int) ([]TunnelRow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []db.Tunnel
	for _, t := range m.tunnels {
		owner, ok := m.users[t.UserID]
		if !ok {
			continue
		}
		if filter.UserName != "" && owner.UserName != filter.UserName {
			continue
		}
		if filter.Email != "" && owner.Email != filter.Email {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		matched = append(matched, t)
	}
	sortTunnels(matched)
	total := int64(len(matched))
	rows := make([]TunnelRow, 0, limit)
	for _, t := range slicePage(matched, offset, limit) {
		owner := m.users[t.UserID]
		rows = append(rows, TunnelRow{
			Tunnel:    t,
			UserName:  owner.UserName,
			Email:     owner.Email,
			AuthToken: owner.AuthToken,
		})
	}
	return rows, total, nil
}

func (m *Mem) Insert(_ context.Context, t *db.Tunnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tunnels[t.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.tunnels {
		if existing.SubDomain == t.SubDomain {
			return ErrDuplicate
		}
	}
	m.tunnels[t.ID] = *t
	return nil
}

func (m *Mem) Update(_ context.Context, t *db.Tunnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tunnels[t.ID] = *t
	return nil
}

func (m *Mem) GetUser(_ context.Context, id int64) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// sortTunnels matches the SQL listing order: newest first, id as the
// tie-break.
func sortTunnels(tunnels []db.Tunnel) {
	sort.Slice(tunnels, func(i, j int) bool {
		if tunnels[i].CreateTime.Equal(tunnels[j].CreateTime) {
			return tunnels[i].ID < tunnels[j].ID
		}
		return tunnels[i].CreateTime.After(tunnels[j].CreateTime)
	})
}

func slicePage(tunnels []db.Tunnel, offset, limit int) []db.Tunnel {
	if offset >= len(tunnels) {
		return nil
	}
	end := offset + limit
	if end > len(tunnels) {
		end = len(tunnels)
	}
	return tunnels[offset:end]
}
