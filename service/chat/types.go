package chat

import "context"

// Handler serves one inbound action. Rejections are written to the connection by the handler;
// a returned error means the frame could not be served at all.
type Handler interface {
	Action() Action
	Handle(ctx context.Context, c *WsConn, f InboundFrame) error
}
