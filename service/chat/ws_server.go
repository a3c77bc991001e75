package chat

import (
	"context"
	"net"
	"time"

	mwsecurity "MeetChat/middleware/security"
	"MeetChat/service/storage"
	"MeetChat/tools/errs"
	"MeetChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS runs one connection: upgrade, register, read loop, unregister.
func (s *Server) HandleWS(c *gin.Context) {
	userID := mwsecurity.UserID(c)
	if userID == "" {
		c.AbortWithStatusJSON(errs.ErrUnauthorized.Code, gin.H{
			"error": gin.H{"code": errs.ErrUnauthorized.Reason, "message": errs.ErrUnauthorized.Msg},
		})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		s.log.Info("upgrade websocket", zap.String("userId", userID), zap.Error(err))
		return
	}

	conf := s.conns.Conf()
	wc := s.conns.NewConn(s.ids.NextString(), userID, ws)
	wc.SetState(StateAuthenticated)
	log := s.log.With(zap.String("connId", wc.ID), zap.String("userId", userID))

	if err := s.conns.Add(wc); err != nil {
		log.Error("add connection", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(conf.WriteWait))
		_ = ws.Close()
		return
	}
	safe.Go("ws-writer", func() { s.conns.writeLoop(wc) })

	regCtx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	err = s.reg.Register(regCtx, storage.ConnRecord{
		ConnectionID: wc.ID,
		UserID:       userID,
		GatewayID:    s.conns.GatewayID(),
		ConnectedAt:  wc.CreatedAt,
	})
	cancel()
	if err != nil {
		log.Error("register connection", zap.Error(err))
		wc.CloseWith(websocket.CloseInternalServerErr, "registry unavailable")
		s.conns.Remove(wc.ID)
		s.unregister(wc, log)
		return
	}
	wc.SetState(StateActive)
	log.Info("connection open", zap.Stringer("remote", wc.Remote))

	s.readLoop(wc, log)

	s.conns.Remove(wc.ID)
	s.unregister(wc, log)
	log.Info("connection closed")
}

func (s *Server) readLoop(wc *WsConn, log *zap.Logger) {
	conf := s.conns.Conf()
	ws := wc.Conn
	ws.SetReadLimit(conf.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Debug("peer closed", zap.Error(err))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Info("read timeout", zap.Error(err))
			} else {
				log.Debug("read", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(conf.PongWait))

		frame, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Info("malformed frame", zap.ByteString("sample", sample), zap.Int("len", len(data)))
			_ = wc.PushFrame(RejectionFrame(errs.ErrValidation.WrapMsg("malformed frame"), ""))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.frameTimeout)
		if err := s.disp.Dispatch(ctx, wc, frame); err != nil {
			log.Warn("dispatch frame", zap.String("action", string(frame.Action)), zap.Error(err))
		}
		cancel()
	}
}

func (s *Server) unregister(wc *WsConn, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.reg.Unregister(ctx, wc.ID); err != nil {
		log.Warn("unregister connection", zap.Error(err))
	}
}
