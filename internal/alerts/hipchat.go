package alerts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

// DefaultHipChatAPIURL is the v1 room message endpoint
const DefaultHipChatAPIURL = "https://api.hipchat.com/v1/rooms/message?format=json"

// HipChatBackend posts notifications to a HipChat room
type HipChatBackend struct {
	logger     *zap.Logger
	httpClient *http.Client
	apiURL     string
}

// NewHipChatBackend creates a HipChat backend
func NewHipChatBackend(apiURL string, timeout time.Duration, logger *zap.Logger) *HipChatBackend {
	if apiURL == "" {
		apiURL = DefaultHipChatAPIURL
	}
	return &HipChatBackend{
		logger:     logger.Named("hipchat"),
		httpClient: newHTTPClient(timeout),
		apiURL:     apiURL,
	}
}

// Name implements Backend
func (h *HipChatBackend) Name() string { return "hipchat" }

// Send implements Backend
func (h *HipChatBackend) Send(ctx context.Context, n model.Notification, params model.Params) error {
	room := params["room"]
	token := params["token"]
	if room == "" || token == "" {
		h.logger.Error("HipChat room and token are required", zap.String("path", n.Path))
		return fmt.Errorf("%w: room and token", ErrMissingParam)
	}

	color, icon := hipChatStyle(n.State)
	form := url.Values{}
	form.Set("auth_token", token)
	form.Set("room_id", room)
	form.Set("from", paramOr(params, "from", defaultFrom))
	form.Set("color", color)
	form.Set("message_format", "text")
	form.Set("notify", "1")
	form.Set("message", fmt.Sprintf("%s %s is in %s - %s", icon, n.Path, n.State, n.Message))

	if _, err := post(ctx, h.httpClient, h.apiURL, "application/x-www-form-urlencoded", []byte(form.Encode()), nil); err != nil {
		h.logger.Error("Failed to send message", zap.String("room", room), zap.Error(err))
		return err
	}

	h.logger.Info("Message sent", zap.String("room", room))
	return nil
}

func hipChatStyle(state model.State) (color, icon string) {
	switch state {
	case model.StateOK:
		return "green", "(successful)"
	case model.StateError:
		return "red", "(failed)"
	default:
		return "gray", "(unknown)"
	}
}
