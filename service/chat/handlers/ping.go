package handlers

import (
	"context"

	"MeetChat/logger"
	"MeetChat/service/chat"
	"MeetChat/service/storage"

	"go.uber.org/zap"
)

// PingHandler answers the client heartbeat and keeps the registry record alive.
type PingHandler struct {
	reg storage.Registry
	log *zap.Logger
}

func NewPingHandler(reg storage.Registry) *PingHandler {
	return &PingHandler{reg: reg, log: logger.L("ping")}
}

func (h *PingHandler) Action() chat.Action { return chat.ActionPing }

func (h *PingHandler) Handle(ctx context.Context, c *chat.WsConn, _ chat.InboundFrame) error {
	if err := h.reg.Touch(ctx, c.ID); err != nil {
		h.log.Warn("touch connection", zap.String("connId", c.ID), zap.Error(err))
	}
	return c.PushFrame(chat.PongFrame{Type: chat.TypePong})
}
