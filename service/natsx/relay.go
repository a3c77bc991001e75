package natsx

import (
	"context"

	"MeetChat/logger"
	"MeetChat/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	HeaderConnID = "Conn-Id"

	replyOK   = "ok"
	replyGone = "gone"
	replyBusy = "busy"
)

// LocalSink is the local side of a gateway: it queues a frame on one of its sockets.
type LocalSink interface {
	Push(connID string, payload []byte) error
}

// Relay carries pushes between gateways over request/reply on <prefix>.gateway.<id>.push.
type Relay struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

func NewRelay(nc *nats.Conn, prefix string) *Relay {
	if prefix == "" {
		prefix = "chat"
	}
	return &Relay{nc: nc, prefix: prefix, log: logger.L("relay")}
}

func (r *Relay) Subject(gatewayID string) string {
	return r.prefix + ".gateway." + gatewayID + ".push"
}

// Push asks gatewayID to deliver payload to connID. A "gone" reply, or no gateway listening,
// yields errs.ErrGone; timeouts and busy replies are transient.
func (r *Relay) Push(ctx context.Context, gatewayID, connID string, payload []byte) error {
	msg := nats.NewMsg(r.Subject(gatewayID))
	msg.Header.Set(HeaderConnID, connID)
	msg.Data = payload

	reply, err := r.nc.RequestMsgWithContext(ctx, msg)
	if errors.Is(err, nats.ErrNoResponders) {
		return errs.ErrGone
	}
	if err != nil {
		return errors.Wrapf(err, "relay push gateway=%s conn=%s", gatewayID, connID)
	}
	switch string(reply.Data) {
	case replyOK:
		return nil
	case replyGone:
		return errs.ErrGone
	default:
		return errors.Errorf("relay push gateway=%s conn=%s: %s", gatewayID, connID, reply.Data)
	}
}

// Serve answers pushes addressed to gatewayID from the local sink until the subscription is drained.
func (r *Relay) Serve(gatewayID string, local LocalSink) (*nats.Subscription, error) {
	sub, err := r.nc.Subscribe(r.Subject(gatewayID), func(m *nats.Msg) {
		var out string
		err := local.Push(m.Header.Get(HeaderConnID), m.Data)
		switch {
		case err == nil:
			out = replyOK
		case errors.Is(err, errs.ErrGone):
			out = replyGone
		default:
			out = replyBusy
		}
		if rerr := m.Respond([]byte(out)); rerr != nil {
			r.log.Warn("relay respond", zap.String("gatewayId", gatewayID), zap.Error(rerr))
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", r.Subject(gatewayID))
	}
	return sub, nil
}
