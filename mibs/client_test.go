package mibs_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/internal/utils"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type recordedRequest struct {
	Method    string
	Query     string
	Auth      string
	RequestID string
	Body      string
}

type fakeAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	status   int
	reply    string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{status: http.StatusOK, reply: `{"success":"true","message":"ok"}`}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.requests = append(api.requests, recordedRequest{
			Method:    r.Method,
			Query:     r.URL.RawQuery,
			Auth:      r.Header.Get("Authorization"),
			RequestID: r.Header.Get("X-Request-ID"),
			Body:      string(body),
		})
		status, reply := api.status, api.reply
		api.mu.Unlock()

		if r.URL.Path != "/mibs" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) respond(status int, reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status, a.reply = status, reply
}

func (a *fakeAPI) last() recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

func staticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

type failingSource struct{ err error }

func (f failingSource) Token() (*oauth2.Token, error) { return nil, f.err }

var sendTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestList_BareArray(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusOK, `[
		{"messageId": 7, "userId": "u1", "message": "hello", "sent": false,
		 "sendTime": "Wed, 01 May 2024 12:00:00 GMT",
		 "recipients": [{"email": "a@example.com"}, {"phoneNumber": "+64211234567"}, {"userId": "u2"}]}
	]`)

	client := mibs.NewClient(api.srv.URL, staticToken("T1"))
	messages, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)

	m := messages[0]
	assert.Equal(t, 7, m.ID())
	assert.Equal(t, "hello", m.Message)
	assert.True(t, m.SendTime.Equal(sendTime))
	assert.Equal(t, []mibs.Recipient{
		mibs.Email("a@example.com"),
		mibs.SMS("+64211234567"),
		mibs.User("u2"),
	}, m.Recipients)

	req := api.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "Bearer T1", req.Auth)
	assert.NotEmpty(t, req.RequestID)
}

func TestList_Envelope(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusOK, `{"messages": [{"messageId": 1, "message": "hi", "sendTime": "2024-05-01T12:00:00Z", "recipients": []}]}`)

	messages, err := mibs.NewClient(api.srv.URL, staticToken("T1")).List(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].SendTime.Equal(sendTime))
}

func TestList_NoMessages(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusOK, `{"success": "true", "message": "Hello from GET /mibs"}`)

	messages, err := mibs.NewClient(api.srv.URL, staticToken("T1")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCreate(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusOK, `{"success": "true", "message": "Created"}`)
	client := mibs.NewClient(api.srv.URL, staticToken("T1"))

	reply, err := client.Create(context.Background(), mibs.Message{
		Message:    "hello",
		Recipients: []mibs.Recipient{mibs.Email("a@example.com")},
		SendTime:   sendTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "Created", reply)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.JSONEq(t, `{
		"message": "hello",
		"recipients": [{"email": "a@example.com"}],
		"sendTime": "Wed, 01 May 2024 12:00:00 GMT",
		"sent": false
	}`, req.Body)
}

func TestCreate_InvalidRecipient(t *testing.T) {
	api := newFakeAPI(t)
	client := mibs.NewClient(api.srv.URL, staticToken("T1"))

	_, err := client.Create(context.Background(), mibs.Message{
		Message:    "hello",
		Recipients: []mibs.Recipient{mibs.Email("not an email")},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidRecipient)
}

func TestUpdate(t *testing.T) {
	api := newFakeAPI(t)
	client := mibs.NewClient(api.srv.URL, staticToken("T1"))

	_, err := client.Update(context.Background(), mibs.Message{Message: "x"})
	require.ErrorIs(t, err, apperrors.ErrMissingMessageID)

	_, err = client.Update(context.Background(), mibs.Message{MessageID: utils.Ptr(3), Message: "x", SendTime: sendTime})
	require.NoError(t, err)

	req := api.last()
	assert.Equal(t, http.MethodPut, req.Method)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, float64(3), body["messageId"])
}

func TestDelete(t *testing.T) {
	api := newFakeAPI(t)
	client := mibs.NewClient(api.srv.URL, staticToken("T1"))

	_, err := client.Delete(context.Background(), 0)
	require.ErrorIs(t, err, apperrors.ErrMissingMessageID)

	_, err = client.Delete(context.Background(), 42)
	require.NoError(t, err)
	req := api.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "messageId=42", req.Query)
}

func TestAPIError(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusBadRequest, `{"success": "false", "message": "send time is in the past"}`)
	client := mibs.NewClient(api.srv.URL, staticToken("T1"))

	_, err := client.Create(context.Background(), mibs.Message{Message: "x"})
	var apiErr *mibs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "send time is in the past", apiErr.Message)
	assert.Equal(t, "Cannot create MIB: send time is in the past", mibs.UserMessage("create", err))
}

func TestNoResponse(t *testing.T) {
	api := newFakeAPI(t)
	url := api.srv.URL
	api.srv.Close()

	_, err := mibs.NewClient(url, staticToken("T1")).List(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoResponse)
	assert.Equal(t, "Server did not respond. Try again later.", mibs.UserMessage("fetch", err))
}

func TestNotLoggedIn(t *testing.T) {
	api := newFakeAPI(t)
	client := mibs.NewClient(api.srv.URL, failingSource{err: apperrors.ErrNotLoggedIn})

	_, err := client.List(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
}

func TestSetBaseURL(t *testing.T) {
	first := newFakeAPI(t)
	second := newFakeAPI(t)
	client := mibs.NewClient(first.srv.URL+"/", staticToken("T1"))
	assert.Equal(t, first.srv.URL, client.BaseURL())

	client.SetBaseURL(second.srv.URL)
	_, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, second.last().Method)
}

func TestUserMessage_Fallback(t *testing.T) {
	assert.Equal(t, "", mibs.UserMessage("create", nil))
	assert.Equal(t, "Something went wrong sending the data. Try again later.",
		mibs.UserMessage("create", apperrors.ErrInvalidRecipient))
}
