package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MeetChat/middleware"
	mwsecurity "MeetChat/middleware/security"
	"MeetChat/module/chat/model"
	"MeetChat/module/chat/service"
	"MeetChat/module/chat/store"
	"MeetChat/module/user"
	usermodel "MeetChat/module/user/model"
	"MeetChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("rest-test-secret")

type api struct {
	r   *gin.Engine
	mem *store.Memory
	svc *service.ChatService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	dir := user.NewMemory(
		usermodel.Profile{UserID: "alice", VerificationStatus: usermodel.VerificationApproved},
		usermodel.Profile{UserID: "bob", VerificationStatus: usermodel.VerificationApproved},
		usermodel.Profile{UserID: "eve", VerificationStatus: usermodel.VerificationApproved},
	)
	svc := service.New(service.Options{Rooms: mem, Messages: mem, Directory: dir, Limits: service.DefaultLimits()})
	verifier, err := security.NewVerifier(security.DefaultOptions(secret), nil)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(svc).Routes(middleware.NewRouter(r, mwsecurity.Middleware(verifier, nil)))
	return &api{r: r, mem: mem, svc: svc}
}

func (a *api) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := security.Generate(security.DefaultOptions(secret), userID, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func errCode(m map[string]any) string {
	e, _ := m["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

func TestRoomsRequireToken(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodGet, "/chat/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errCode(body))
}

func TestCreateListAndReadRoom(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()

	code, body := a.do(t, http.MethodPost, "/chat/rooms", "alice", map[string]any{"participantIds": []string{"bob", "bob"}})
	require.Equal(t, http.StatusCreated, code, body)
	room := body["data"].(map[string]any)
	roomID := room["chatRoomId"].(string)
	assert.Equal(t, "direct", room["type"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, room["participantIds"])

	for _, content := range []string{"one", "two"} {
		_, _, err := a.svc.Send(ctx, service.SendInput{RoomID: roomID, SenderID: "bob", Content: content})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	code, body = a.do(t, http.MethodGet, "/chat/rooms", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 1, data["count"])
	summary := data["rooms"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 2, summary["unreadCount"])
	assert.Equal(t, "two", summary["lastMessage"])

	code, body = a.do(t, http.MethodGet, "/chat/rooms/"+roomID, "alice", nil)
	require.Equal(t, http.StatusOK, code)
	msgs := body["data"].(map[string]any)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "two", msgs[1].(map[string]any)["content"])

	code, body = a.do(t, http.MethodPost, "/chat/rooms/"+roomID+"/read", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["data"].(map[string]any)["lastReadAt"])

	_, body = a.do(t, http.MethodGet, "/chat/rooms", "alice", nil)
	summary = body["data"].(map[string]any)["rooms"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 0, summary["unreadCount"])
}

func TestGetRoomErrors(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.mem.CreateRoom(context.Background(), model.NewRoom("r1", []string{"alice", "bob"}, "", time.Now())))

	code, body := a.do(t, http.MethodGet, "/chat/rooms/r1", "eve", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_PARTICIPANT", errCode(body))

	code, body = a.do(t, http.MethodGet, "/chat/rooms/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ROOM_NOT_FOUND", errCode(body))
}

func TestMarkReadWithoutParticipationSucceeds(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(t, http.MethodPost, "/chat/rooms/nowhere/read", "alice", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateRoomLimits(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/chat/rooms", "alice", map[string]any{"participantIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errCode(body))

	for i := 0; i < 3; i++ {
		code, _ = a.do(t, http.MethodPost, "/chat/rooms", "alice", map[string]any{"participantIds": []string{"bob"}})
		require.Equal(t, http.StatusCreated, code)
	}
	code, body = a.do(t, http.MethodPost, "/chat/rooms", "alice", map[string]any{"participantIds": []string{"eve"}})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "USAGE_LIMIT_EXCEEDED", errCode(body))
}
