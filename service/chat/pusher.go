package chat

import (
	"context"

	"MeetChat/service/storage"

	"github.com/pkg/errors"
)

// Pusher delivers one frame to one registered connection. errs.ErrGone means the connection
// no longer exists; any other error is transient.
type Pusher interface {
	Push(ctx context.Context, rec storage.ConnRecord, payload []byte) error
}

// Relay forwards pushes to connections held by another gateway.
type Relay interface {
	Push(ctx context.Context, gatewayID, connID string, payload []byte) error
}

var ErrNoRelay = errors.New("connection is on another gateway and no relay is configured")

// RoutingPusher writes to local sockets directly and relays the rest by gateway id.
type RoutingPusher struct {
	local *ConnManager
	relay Relay
}

func NewRoutingPusher(local *ConnManager, relay Relay) *RoutingPusher {
	return &RoutingPusher{local: local, relay: relay}
}

func (p *RoutingPusher) Push(ctx context.Context, rec storage.ConnRecord, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.GatewayID == "" || rec.GatewayID == p.local.GatewayID() {
		return p.local.Push(rec.ConnectionID, payload)
	}
	if p.relay == nil {
		return ErrNoRelay
	}
	return p.relay.Push(ctx, rec.GatewayID, rec.ConnectionID, payload)
}
