package chat

import (
	"net/http"

	"MeetChat/logger"
	"MeetChat/middleware"
	mwsecurity "MeetChat/middleware/security"
	"MeetChat/module/chat/service"
	"MeetChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the room REST API. Every route requires a bearer token.
type Handler struct {
	svc *service.ChatService
	log *zap.Logger
}

func NewHandler(svc *service.ChatService) *Handler {
	return &Handler{svc: svc, log: logger.L("chat-api")}
}

func (h *Handler) Routes(rt *middleware.Router) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.GET("/chat/rooms", h.wrap(h.ListRooms), auth)
	rt.POST("/chat/rooms", h.wrap(h.CreateRoom), auth)
	rt.GET("/chat/rooms/:roomId", h.wrap(h.GetRoom), auth)
	rt.POST("/chat/rooms/:roomId/read", h.wrap(h.MarkRead), auth)
}

// wrap writes a returned error as {"error":{"code","message"}} with the code's HTTP status.
func (h *Handler) wrap(fn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := fn(c)
		if err == nil {
			return
		}
		ce := errs.ToCode(err)
		if ce.Code >= http.StatusInternalServerError {
			h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		} else {
			h.log.Debug("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.AbortWithStatusJSON(ce.Code, gin.H{"error": gin.H{"code": ce.Reason, "message": ce.Msg}})
	}
}

// ListRooms GET /chat/rooms
func (h *Handler) ListRooms(c *gin.Context) error {
	rooms, err := h.svc.ListRooms(c.Request.Context(), mwsecurity.UserID(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"rooms": rooms, "count": len(rooms)}})
	return nil
}

// GetRoom GET /chat/rooms/:roomId
func (h *Handler) GetRoom(c *gin.Context) error {
	detail, err := h.svc.GetRoom(c.Request.Context(), mwsecurity.UserID(c), c.Param("roomId"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
	return nil
}

// MarkRead POST /chat/rooms/:roomId/read
func (h *Handler) MarkRead(c *gin.Context) error {
	at, err := h.svc.MarkRoomRead(c.Request.Context(), mwsecurity.UserID(c), c.Param("roomId"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"lastReadAt": at}})
	return nil
}

// CreateRoom POST /chat/rooms
func (h *Handler) CreateRoom(c *gin.Context) error {
	var in service.CreateRoomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		return errs.ErrValidation.WrapMsg(err.Error())
	}
	room, err := h.svc.CreateRoom(c.Request.Context(), mwsecurity.UserID(c), in)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, gin.H{"data": room})
	return nil
}
