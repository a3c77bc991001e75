package storage

import (
	"context"
	"time"
)

// ConnRecord is one live transport connection of an authenticated user.
type ConnRecord struct {
	ConnectionID string
	UserID       string
	GatewayID    string // 持有该连接的网关实例
	ConnectedAt  time.Time
	ExpiresAt    time.Time
}

// Registry is the bidirectional connection index. It keeps two projections of the same
// fact, by connection and by user, under a fixed ordering contract:
//
//   - Register writes the by-connection projection before the by-user one, so a partial
//     failure never leaves a connection reachable by fanout that disconnect cannot find.
//   - Unregister reads the owner from the by-connection projection, then deletes both.
//
// Every operation is idempotent. Absent entries are not errors.
type Registry interface {
	Register(ctx context.Context, rec ConnRecord) error
	Unregister(ctx context.Context, connID string) error
	ConnectionsFor(ctx context.Context, userID string) ([]ConnRecord, error)
	Lookup(ctx context.Context, connID string) (ConnRecord, bool, error)
	// Touch pushes the expiry of a live connection forward.
	Touch(ctx context.Context, connID string) error
}

const DefaultConnTTL = 24 * time.Hour
