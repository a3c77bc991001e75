package client

import (
	"context"
	"net/http"
	"time"

	"MeetChat/module/chat/model"
	"MeetChat/tools/errs"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// History calls the room REST API with the session's bearer token.
type History struct {
	client *resty.Client
	token  func() (string, error)
}

// NewHistory builds a client for baseURL; client may be nil.
func NewHistory(baseURL string, token func() (string, error), client *resty.Client) *History {
	if client == nil {
		client = resty.New().SetTimeout(10 * time.Second)
	}
	client.SetBaseURL(baseURL)
	return &History{client: client, token: token}
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type roomsResult struct {
	Data struct {
		Rooms []model.RoomSummary `json:"rooms"`
		Count int                 `json:"count"`
	} `json:"data"`
}

type detailResult struct {
	Data model.RoomDetail `json:"data"`
}

type roomResult struct {
	Data model.Room `json:"data"`
}

func (h *History) request(ctx context.Context) (*resty.Request, error) {
	token, err := h.token()
	if err == nil && token == "" {
		err = ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	return h.client.R().SetContext(ctx).SetAuthToken(token).SetError(&apiError{}), nil
}

// Rooms lists the caller's rooms, most recent activity first.
func (h *History) Rooms(ctx context.Context) ([]model.RoomSummary, error) {
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	out := &roomsResult{}
	resp, err := req.SetResult(out).Get("/chat/rooms")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Data.Rooms, nil
}

// Room returns the room with its recent messages, oldest first.
func (h *History) Room(ctx context.Context, roomID string) (*model.RoomDetail, error) {
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	out := &detailResult{}
	resp, err := req.SetResult(out).SetPathParam("roomId", roomID).Get("/chat/rooms/{roomId}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// MarkRead marks the room read. Servers without the endpoint (404, 405, 501) are ignored.
func (h *History) MarkRead(ctx context.Context, roomID string) error {
	req, err := h.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("roomId", roomID).Post("/chat/rooms/{roomId}/read")
	if err == nil {
		switch resp.StatusCode() {
		case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
			return nil
		}
	}
	return check(resp, err)
}

func (h *History) CreateRoom(ctx context.Context, participantIDs []string, activityID string) (*model.Room, error) {
	req, err := h.request(ctx)
	if err != nil {
		return nil, err
	}
	out := &roomResult{}
	resp, err := req.SetResult(out).
		SetBody(map[string]any{"participantIds": participantIDs, "activityId": activityID}).
		Post("/chat/rooms")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// check turns a failed call into an error; API errors become CodeErrors so errors.Is matches
// the server's reasons.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "chat api")
	}
	if !resp.IsError() {
		return nil
	}
	e, _ := resp.Error().(*apiError)
	if e == nil || e.Error.Code == "" {
		return errs.NewCodeError(resp.StatusCode(), http.StatusText(resp.StatusCode()), resp.Status()).Wrap()
	}
	return errs.NewCodeError(resp.StatusCode(), e.Error.Code, e.Error.Message).Wrap()
}
