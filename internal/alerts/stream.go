package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alert."
	alertStreamMaxAge  = 7 * 24 * time.Hour
	operationTimeout   = 10 * time.Second
)

var subjectToken = regexp.MustCompile(`^[-_A-Za-z0-9]+$`)

// StreamBackend publishes notifications to the ALERTS JetStream stream so
// other systems can consume them
type StreamBackend struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewStreamBackend creates the backend, adding the ALERTS stream if missing
func NewStreamBackend(js nats.JetStreamContext, logger *zap.Logger) (*StreamBackend, error) {
	s := &StreamBackend{
		logger: logger.Named("stream"),
		js:     js,
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := s.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup alert stream: %w", err)
	}
	return s, nil
}

func (s *StreamBackend) setupStream(ctx context.Context) error {
	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:     alertStreamName,
		Subjects: []string{alertSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   alertStreamMaxAge,
		MaxMsgs:  -1,
	}, nats.Context(ctx))

	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			s.logger.Info("Stream already exists", zap.String("stream", alertStreamName))
			return nil
		}
		return err
	}

	s.logger.Info("Stream created successfully", zap.String("stream", alertStreamName))
	return nil
}

// Name implements Backend
func (s *StreamBackend) Name() string { return "nats" }

// Send implements Backend
func (s *StreamBackend) Send(ctx context.Context, n model.Notification, params model.Params) error {
	suffix := strings.ToLower(string(n.State))
	if override := params["subject"]; override != "" {
		if !subjectToken.MatchString(override) {
			s.logger.Error("Invalid subject override", zap.String("subject", override))
			return fmt.Errorf("%w: subject %q", ErrInvalidParam, override)
		}
		suffix = override
	}
	subject := alertSubjectPrefix + suffix

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := s.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(n.ID)); err != nil {
		s.logger.Error("Failed to publish notification",
			zap.String("notification_id", n.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}

	s.logger.Info("Notification published",
		zap.String("notification_id", n.ID),
		zap.String("subject", subject))
	return nil
}

// Subscribe delivers every notification published to the stream to handler
// until ctx is done
func (s *StreamBackend) Subscribe(ctx context.Context, handler func(model.Notification)) error {
	sub, err := s.js.Subscribe(alertSubjectPrefix+"*", func(msg *nats.Msg) {
		var n model.Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			s.logger.Error("Failed to unmarshal notification", zap.Error(err))
			_ = msg.Term()
			return
		}

		handler(n)
		_ = msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	return nil
}
