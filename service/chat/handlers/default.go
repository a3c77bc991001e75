package handlers

import (
	"context"

	"MeetChat/service/chat"
)

// DefaultHandler answers unknown actions with a diagnostic frame and keeps the connection.
type DefaultHandler struct{}

func NewDefaultHandler() *DefaultHandler { return &DefaultHandler{} }

func (h *DefaultHandler) Action() chat.Action { return "" }

func (h *DefaultHandler) Handle(_ context.Context, c *chat.WsConn, f chat.InboundFrame) error {
	return c.PushFrame(chat.DiagnosticFrame{
		Type:    chat.TypeDiagnostic,
		Message: "Default route",
		Route:   string(f.Action),
	})
}
