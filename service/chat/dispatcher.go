package chat

import (
	"context"

	"MeetChat/tools/safe"
)

// Dispatcher routes inbound frames. Every known Action has a case; anything else goes to
// the fallback handler.
type Dispatcher struct {
	send     Handler
	ping     Handler
	fallback Handler
}

func NewDispatcher(send, ping, fallback Handler) *Dispatcher {
	safe.MustNotNil(send, "sendMessage handler")
	safe.MustNotNil(ping, "ping handler")
	safe.MustNotNil(fallback, "default handler")
	return &Dispatcher{send: send, ping: ping, fallback: fallback}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *WsConn, f InboundFrame) error {
	var h Handler
	switch f.Action {
	case ActionSendMessage:
		h = d.send
	case ActionPing:
		h = d.ping
	default:
		h = d.fallback
	}
	var err error
	if perr := safe.Call(func() { err = h.Handle(ctx, c, f) }); perr != nil {
		return perr
	}
	return err
}
