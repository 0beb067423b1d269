package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
	"github.com/t77yq/registry-monitor/internal/testutil"
)

func testNotification(state model.State, message string) model.Notification {
	return model.Notification{
		ID:        "3f1a6c1e-0000-4000-8000-000000000001",
		Path:      "/services/web",
		State:     state,
		Message:   message,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type capturedRequest struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int, reply string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestSlackBackend_Send(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK, `{"ok":true}`)
	b := NewSlackBackend(SlackConfig{APIURL: srv.URL, RatePerMinute: 600}, zap.NewNop())
	assert.Equal(t, "slack", b.Name())

	err := b.Send(context.Background(), testNotification(model.StateError, "0 children, need 1"),
		model.Params{"channel": "#oncall", "token": "xoxb-1"})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer xoxb-1", reqs[0].header.Get("Authorization"))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(reqs[0].body, &msg))
	assert.Equal(t, "#oncall", msg.Channel)
	assert.Equal(t, "ZK Monitor", msg.Username)
	assert.Equal(t, "(:exclamation:) /services/web is in ERROR - 0 children, need 1", msg.Text)
}

func TestSlackBackend_APIError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `{"ok":false,"error":"channel_not_found"}`)
	b := NewSlackBackend(SlackConfig{APIURL: srv.URL, RatePerMinute: 600}, zap.NewNop())

	err := b.Send(context.Background(), testNotification(model.StateOK, "fine"),
		model.Params{"channel": "#nope", "token": "xoxb-1", "from": "Bot"})
	require.ErrorIs(t, err, ErrDeliveryRejected)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackBackend_MissingParams(t *testing.T) {
	b := NewSlackBackend(SlackConfig{APIURL: "http://127.0.0.1:1"}, zap.NewNop())

	err := b.Send(context.Background(), testNotification(model.StateError, "x"), model.Params{"channel": "#ops"})
	require.ErrorIs(t, err, ErrMissingParam)
}

func TestSlackIcon(t *testing.T) {
	assert.Equal(t, ":+1:", slackIcon(model.StateOK))
	assert.Equal(t, ":exclamation:", slackIcon(model.StateError))
	assert.Equal(t, ":grey_question:", slackIcon(model.StateUnknown))
}

func TestHipChatBackend_Send(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK, `{"status":"sent"}`)
	b := NewHipChatBackend(srv.URL, time.Second, zap.NewNop())
	assert.Equal(t, "hipchat", b.Name())

	err := b.Send(context.Background(), testNotification(model.StateOK, "2 children"),
		model.Params{"room": "Ops", "token": "abc"})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].header.Get("Content-Type"))

	form, err := url.ParseQuery(string(reqs[0].body))
	require.NoError(t, err)
	assert.Equal(t, "abc", form.Get("auth_token"))
	assert.Equal(t, "Ops", form.Get("room_id"))
	assert.Equal(t, "ZK Monitor", form.Get("from"))
	assert.Equal(t, "green", form.Get("color"))
	assert.Equal(t, "(successful) /services/web is in OK - 2 children", form.Get("message"))
}

func TestHipChatBackend_HTTPError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusUnauthorized, `{"error":"bad token"}`)
	b := NewHipChatBackend(srv.URL, time.Second, zap.NewNop())

	err := b.Send(context.Background(), testNotification(model.StateError, "x"),
		model.Params{"room": "Ops", "token": "bad"})
	require.ErrorIs(t, err, ErrDeliveryRejected)
}

func TestHipChatStyle(t *testing.T) {
	color, icon := hipChatStyle(model.StateError)
	assert.Equal(t, "red", color)
	assert.Equal(t, "(failed)", icon)

	color, icon = hipChatStyle(model.StateUnknown)
	assert.Equal(t, "gray", color)
	assert.Equal(t, "(unknown)", icon)
}

func TestWebhookBackend_Send(t *testing.T) {
	srv, requests := captureServer(t, http.StatusAccepted, "")
	b := NewWebhookBackend(time.Second, zap.NewNop())

	n := testNotification(model.StateError, "0 children, need 1")
	require.NoError(t, b.Send(context.Background(), n, model.Params{"url": srv.URL + "/hook"}))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/json", reqs[0].header.Get("Content-Type"))
	assert.Equal(t, userAgent, reqs[0].header.Get("User-Agent"))

	var env WebhookEnvelope
	require.NoError(t, json.Unmarshal(reqs[0].body, &env))
	assert.Equal(t, "registry-monitor.notification", env.Type)
	assert.Equal(t, "1", env.SchemaVersion)
	assert.Equal(t, n, env.Data)
}

func TestWebhookBackend_InvalidURL(t *testing.T) {
	b := NewWebhookBackend(time.Second, zap.NewNop())
	n := testNotification(model.StateError, "x")

	require.ErrorIs(t, b.Send(context.Background(), n, model.Params{}), ErrMissingParam)
	require.ErrorIs(t, b.Send(context.Background(), n, model.Params{"url": "ftp://example.com"}), ErrInvalidParam)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://hooks.example.com", redactURL("https://user:pw@hooks.example.com/secret?token=1"))
	assert.Equal(t, "<invalid>", redactURL("not a url"))
}

func TestEmailBackend_Send(t *testing.T) {
	b := NewEmailBackend(EmailConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "monitor@example.com"}, zap.NewNop())
	assert.Equal(t, "email", b.Name())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	err := b.Send(context.Background(), testNotification(model.StateError, "0 children, need 1"),
		model.Params{"email": "ops@example.com, oncall@example.com", "body": "Hey, fix this!"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "monitor@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: 0 children, need 1\r\n")
	assert.Contains(t, msg, "To: ops@example.com, oncall@example.com\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nHey, fix this!\r\n"))
}

func TestEmailBackend_DefaultsAndErrors(t *testing.T) {
	b := NewEmailBackend(EmailConfig{}, zap.NewNop())
	n := testNotification(model.StateOK, "line one\nBcc: evil@example.com")

	require.ErrorIs(t, b.Send(context.Background(), n, model.Params{"email": " , "}), ErrMissingParam)

	var gotMsg []byte
	var gotAuth smtp.Auth
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAuth, gotMsg = a, msg
		return errors.New("connection refused")
	}

	err := b.Send(context.Background(), n, model.Params{"email": "ops@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, gotAuth)
	assert.Contains(t, string(gotMsg), "Subject: line one Bcc: evil@example.com\r\n")
}

func TestStreamBackend_PublishAndSubscribe(t *testing.T) {
	_, _, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	b, err := NewStreamBackend(js, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "nats", b.Name())

	// A second backend binds to the existing stream.
	_, err = NewStreamBackend(js, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []model.Notification
	require.NoError(t, b.Subscribe(ctx, func(n model.Notification) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	}))

	n := testNotification(model.StateError, "0 children, need 1")
	require.NoError(t, b.Send(ctx, n, nil))

	require.NoError(t, testutil.WaitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}))
	mu.Lock()
	assert.Equal(t, n, received[0])
	mu.Unlock()

	info, err := js.StreamInfo(alertStreamName)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	msg, err := js.GetLastMsg(alertStreamName, "alert.error")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Data)
}

func TestStreamBackend_SubjectOverride(t *testing.T) {
	_, _, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	b, err := NewStreamBackend(js, zap.NewNop())
	require.NoError(t, err)

	n := testNotification(model.StateOK, "fine")
	require.NoError(t, b.Send(context.Background(), n, model.Params{"subject": "web"}))

	_, err = js.GetLastMsg(alertStreamName, "alert.web")
	require.NoError(t, err)

	err = b.Send(context.Background(), n, model.Params{"subject": "a.b"})
	require.ErrorIs(t, err, ErrInvalidParam)
}
