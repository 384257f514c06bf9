// Package archive persists completed exchanges of the hint and discover
// flows so sessions can be reviewed after the fact.
//
// The archive is a side channel: the agents write to it through a [Guard],
// which never lets a storage failure fail a turn.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flow names the conversation flow an exchange belongs to.
type Flow string

const (
	FlowHint     Flow = "hint"
	FlowDiscover Flow = "discover"
)

// Exchange is one question and the answer given to it.
type Exchange struct {
	ID   string
	Flow Flow

	// Key is the action name for hint exchanges and the session id for
	// discover exchanges.
	Key string

	Question string
	Response string

	// Discoveries are the catalog names disclosed by this exchange.
	Discoveries []string

	CreatedAt time.Time
}

// Store records and reads back exchanges. Implementations must be safe for
// concurrent use.
type Store interface {
	// RecordExchange stores e. Empty ID and zero CreatedAt are filled in.
	RecordExchange(ctx context.Context, e Exchange) error

	// History returns the most recent exchanges for flow and key, oldest
	// first. limit <= 0 returns all of them.
	History(ctx context.Context, flow Flow, key string, limit int) ([]Exchange, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// normalize fills in ID and CreatedAt.
func normalize(e *Exchange) error {
	if e.Flow == "" {
		return fmt.Errorf("archive: exchange has no flow")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Discoveries == nil {
		e.Discoveries = []string{}
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "sqlite", "postgres", "memory" or "" (memory).
	Backend string `yaml:"backend" env:"CLUEKEEPER_ARCHIVE_BACKEND"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn" env:"CLUEKEEPER_ARCHIVE_DSN"`
}

// Open creates the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}
