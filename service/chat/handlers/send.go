package handlers

import (
	"context"

	"MeetChat/logger"
	chatservice "MeetChat/module/chat/service"
	"MeetChat/service/chat"
	"MeetChat/service/storage"
	"MeetChat/tools/decode"
	"MeetChat/tools/errs"

	"go.uber.org/zap"
)

// SendHandler appends a message and fans it out to the room. The sender gets no direct
// acknowledgement: its own copy of the fanout is the confirmation.
type SendHandler struct {
	svc    *chatservice.ChatService
	reg    storage.Registry
	fanout *chat.Fanout
	log    *zap.Logger
}

func NewSendHandler(svc *chatservice.ChatService, reg storage.Registry, fanout *chat.Fanout) *SendHandler {
	return &SendHandler{svc: svc, reg: reg, fanout: fanout, log: logger.L("send")}
}

func (h *SendHandler) Action() chat.Action { return chat.ActionSendMessage }

func (h *SendHandler) Handle(ctx context.Context, c *chat.WsConn, f chat.InboundFrame) error {
	senderID, err := h.resolveSender(ctx, c)
	if err != nil {
		return h.reject(c, err, decode.ReadString(f.Raw, "clientMessageId"))
	}

	in, err := decode.Map[chat.SendMessageFrame](f.Raw)
	if err != nil {
		return h.reject(c, errs.ErrValidation.WrapMsg("malformed sendMessage frame", "err", err.Error()),
			decode.ReadString(f.Raw, "clientMessageId"))
	}

	msg, _, err := h.svc.Send(ctx, chatservice.SendInput{
		RoomID:          in.Room(),
		SenderID:        senderID,
		Content:         in.Content,
		ClientMessageID: in.ClientMessageID,
	})
	if err != nil {
		return h.reject(c, err, in.ClientMessageID)
	}

	payload, err := chat.Encode(chat.NewMessageFrame(msg))
	if err != nil {
		return err
	}
	rep, err := h.fanout.Dispatch(ctx, msg.RoomID, payload)
	if err != nil {
		// the message is stored; realtime delivery is lost for this send
		h.log.Warn("fanout", zap.String("roomId", msg.RoomID), zap.String("messageId", msg.MessageID), zap.Error(err))
		return nil
	}
	h.log.Debug("message delivered",
		zap.String("roomId", msg.RoomID),
		zap.String("messageId", msg.MessageID),
		zap.Int("targets", rep.Targets),
		zap.Int("delivered", rep.Delivered),
		zap.Int("pruned", rep.Pruned),
		zap.Int("failed", rep.Failed))
	return nil
}

// resolveSender requires an active connection whose registry record names the same user.
func (h *SendHandler) resolveSender(ctx context.Context, c *chat.WsConn) (string, error) {
	if c.State() != chat.StateActive {
		return "", errs.ErrUnauthorized.WrapMsg("connection not active", "connId", c.ID)
	}
	rec, ok, err := h.reg.Lookup(ctx, c.ID)
	if err != nil {
		h.log.Warn("registry lookup", zap.String("connId", c.ID), zap.Error(err))
		return "", errs.ErrUnauthorized.WrapMsg("connection not resolvable", "connId", c.ID)
	}
	if !ok || rec.UserID != c.UserID {
		return "", errs.ErrUnauthorized.WrapMsg("connection not registered", "connId", c.ID)
	}
	return rec.UserID, nil
}

func (h *SendHandler) reject(c *chat.WsConn, err error, clientMessageID string) error {
	ce := errs.ToCode(err)
	if ce.Code >= 500 {
		h.log.Error("send message", zap.String("connId", c.ID), zap.Error(err))
	} else {
		h.log.Info("send rejected", zap.String("connId", c.ID), zap.String("reason", ce.Reason), zap.Error(err))
	}
	if perr := c.PushFrame(chat.RejectionFrame(err, clientMessageID)); perr != nil {
		h.log.Info("push rejection", zap.String("connId", c.ID), zap.Error(perr))
	}
	return nil
}
