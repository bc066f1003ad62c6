package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Protocol string

const (
	HttpProtocol Protocol = "http"
	TlsProtocol  Protocol = "tls"
)

type Status int

const (
	StatusAudit Status = iota
	StatusPass
	StatusRejected
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusAudit:
		return "audit"
	case StatusPass:
		return "pass"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Tunnel maps a public subdomain (or full URL) and protocol to a local
// port on the owner's machine. RemotePort, FullURL and OpenTime stay
// zero until an administrator approves the tunnel.
type Tunnel struct {
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID      int64 `gorm:"index"`
	Protocol    Protocol
	Name        string
	SubDomain   string `gorm:"uniqueIndex"`
	LocalPort   int
	RemotePort  int
	FullURL     string
	Status      Status `gorm:"index"`
	Metadata    datatypes.JSON
	CreateTime  time.Time
	OpenTime    *time.Time
	ExpiredTime *time.Time
}

// User is read-only for the broker: only the identity fields rendered
// into the forwarding config are consumed.
type User struct {
	ID           int64 `gorm:"primaryKey"`
	UserName     string
	Email        string
	AuthToken    string
	Status       int
	RegisterTime time.Time
}

// Open connects to the database selected by the DSN prefix
// (postgres://, mysql:// or a sqlite file path) and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	default:
		dialector = sqlite.Open(dsn)
	}
	client, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := client.AutoMigrate(&Tunnel{}, &User{}); err != nil {
		return nil, err
	}
	return client, nil
}
