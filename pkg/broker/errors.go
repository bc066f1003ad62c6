package broker

import "github.com/pkg/errors"

// Reason-coded failures surfaced to callers. Callers must be able to
// tell a contested subdomain apart from an id collision, so both are
// distinct sentinels rather than one generic validation error.
var (
	ErrSubdomainTaken      = errors.New("subdomain already taken")
	ErrIDCollision         = errors.New("tunnel id already in use")
	ErrAllocationExhausted = errors.New("could not allocate a unique tunnel id")
	ErrOwnerNotFound       = errors.New("owner not found")
)
