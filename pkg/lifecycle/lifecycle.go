// Package lifecycle holds the tunnel status state machine: which
// transitions an audit decision may take and how each one mutates the
// tunnel record.
package lifecycle

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tunneldesk/tunneldesk/pkg/db"
)

// CanTransition reports whether a tunnel may move between the two
// statuses. Audit is the initial state for user-requested tunnels;
// Expired is only reachable from Pass (time-driven, external trigger).
// A Pass→Pass "transition" is allowed: re-approving an approved tunnel
// overwrites its forwarding entry rather than erroring.
func CanTransition(from, to db.Status) bool {
	switch from {
	case db.StatusAudit:
		return to == db.StatusPass || to == db.StatusRejected
	case db.StatusPass:
		return to == db.StatusPass || to == db.StatusExpired
	default:
		return false
	}
}

// Approve moves the tunnel to Pass, assigning the public port and the
// validity window. OpenTime records the first approval only; repeated
// approvals keep it.
func Approve(t *db.Tunnel, remotePort int, expiredTime *time.Time, fullURL string, now time.Time) error {
	if !CanTransition(t.Status, db.StatusPass) {
		return errors.Errorf("tunnel %d cannot move from %s to pass", t.ID, t.Status)
	}
	if remotePort <= 0 || remotePort > 65535 {
		return errors.Errorf("invalid remote port %d", remotePort)
	}
	t.Status = db.StatusPass
	t.RemotePort = remotePort
	t.ExpiredTime = expiredTime
	if fullURL != "" {
		t.FullURL = fullURL
	}
	if t.OpenTime == nil {
		t.OpenTime = &now
	}
	return nil
}

// Reject moves the tunnel to Rejected. No forwarding fields are
// populated and the subdomain stays claimed.
func Reject(t *db.Tunnel) error {
	if !CanTransition(t.Status, db.StatusRejected) {
		return errors.Errorf("tunnel %d cannot move from %s to rejected", t.ID, t.Status)
	}
	t.Status = db.StatusRejected
	return nil
}

// Expire moves an approved tunnel to Expired.
func Expire(t *db.Tunnel, now time.Time) error {
	if !CanTransition(t.Status, db.StatusExpired) {
		return errors.Errorf("tunnel %d cannot move from %s to expired", t.ID, t.Status)
	}
	t.Status = db.StatusExpired
	if t.ExpiredTime == nil {
		t.ExpiredTime = &now
	}
	return nil
}
