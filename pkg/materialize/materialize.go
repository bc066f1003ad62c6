// Package materialize writes approved tunnels into the forwarding
// configuration artifact consumed by the forwarding agent.
package materialize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"gorm.io/datatypes"
)

// Entry is one forwarding rule. The agent matches traffic on
// PublicAddress and relays it to the owner's LocalPort, authenticating
// the owner's client with AuthToken.
type Entry struct {
	TunnelID      int64          `json:"tunnelId"`
	Protocol      db.Protocol    `json:"protocol"`
	PublicAddress string         `json:"publicAddress"`
	LocalPort     int            `json:"localPort"`
	RemotePort    int            `json:"remotePort"`
	OwnerUsername string         `json:"ownerUsername"`
	OwnerToken    string         `json:"ownerAuthToken"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
}

// Materializer upserts entries into a single JSON file, keyed by tunnel
// id. Writes go through a temp file and rename so a crash never leaves
// the artifact half-written.
type Materializer struct {
	path string
	mu   sync.Mutex
}

func NewMaterializer(path string) *Materializer {
	return &Materializer{path: path}
}

func (m *Materializer) Path() string {
	return m.path
}

// Write upserts the forwarding entry for the tunnel. Entries of other
// tunnels are preserved; writing the same id again overwrites its entry.
// I/O errors are returned to the caller untouched so the audit
// transition can be aborted with the underlying message.
func (m *Materializer) Write(tunnel *db.Tunnel, owner *db.User, remotePort int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.load()
	if err != nil {
		return err
	}
	publicAddress := tunnel.SubDomain
	if tunnel.FullURL != "" {
		publicAddress = tunnel.FullURL
	}
	entries[strconv.FormatInt(tunnel.ID, 10)] = Entry{
		TunnelID:      tunnel.ID,
		Protocol:      tunnel.Protocol,
		PublicAddress: publicAddress,
		LocalPort:     tunnel.LocalPort,
		RemotePort:    remotePort,
		OwnerUsername: owner.UserName,
		OwnerToken:    owner.AuthToken,
		Metadata:      tunnel.Metadata,
	}
	if err := m.save(entries); err != nil {
		return err
	}
	log.Debug().Msgf("materialized tunnel %d -> %s:%d", tunnel.ID, publicAddress, remotePort)
	return nil
}

// Remove drops a tunnel's entry. The broker never calls this (released
// subdomains are not reclaimed); it exists for external reconciliation.
func (m *Materializer) Remove(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.load()
	if err != nil {
		return err
	}
	delete(entries, strconv.FormatInt(id, 10))
	return m.save(entries)
}

// Entries returns a copy of the current artifact contents.
func (m *Materializer) Entries() (map[string]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Materializer) load() (map[string]Entry, error) {
	entries := make(map[string]Entry)
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Materializer) save(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".forwarding-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
