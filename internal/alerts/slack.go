package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/t77yq/registry-monitor/internal/model"
)

// DefaultSlackAPIURL is the chat.postMessage endpoint of the Slack Web API
const DefaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

// Slack allows about one message per second per channel.
const defaultSlackPerMinute = 60

// SlackConfig configures the Slack backend
type SlackConfig struct {
	APIURL        string
	RatePerMinute int
	Timeout       time.Duration
}

// SlackBackend posts notifications to a Slack channel
type SlackBackend struct {
	logger     *zap.Logger
	httpClient *http.Client
	apiURL     string
	limiter    *rate.Limiter
}

type slackMessage struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewSlackBackend creates a Slack backend
func NewSlackBackend(cfg SlackConfig, logger *zap.Logger) *SlackBackend {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultSlackAPIURL
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultSlackPerMinute
	}

	return &SlackBackend{
		logger:     logger.Named("slack"),
		httpClient: newHTTPClient(cfg.Timeout),
		apiURL:     apiURL,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Name implements Backend
func (s *SlackBackend) Name() string { return "slack" }

// Send implements Backend
func (s *SlackBackend) Send(ctx context.Context, n model.Notification, params model.Params) error {
	channel := params["channel"]
	token := params["token"]
	if channel == "" || token == "" {
		s.logger.Error("Slack channel and token are required", zap.String("path", n.Path))
		return fmt.Errorf("%w: channel and token", ErrMissingParam)
	}

	body, err := json.Marshal(slackMessage{
		Channel:  channel,
		Text:     fmt.Sprintf("(%s) %s is in %s - %s", slackIcon(n.State), n.Path, n.State, n.Message),
		Username: paramOr(params, "from", defaultFrom),
	})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack rate limit wait: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	data, err := post(ctx, s.httpClient, s.apiURL, "application/json; charset=utf-8", body, header)
	if err != nil {
		s.logger.Error("Failed to send message", zap.String("channel", channel), zap.Error(err))
		return err
	}

	var resp slackResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Error("Unexpected Slack response", zap.Error(err))
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !resp.OK {
		s.logger.Error("Slack API refused message",
			zap.String("channel", channel),
			zap.String("error", resp.Error))
		return fmt.Errorf("%w: slack: %s", ErrDeliveryRejected, resp.Error)
	}

	s.logger.Info("Message sent", zap.String("channel", channel))
	return nil
}

func slackIcon(state model.State) string {
	switch state {
	case model.StateOK:
		return ":+1:"
	case model.StateError:
		return ":exclamation:"
	default:
		return ":grey_question:"
	}
}
