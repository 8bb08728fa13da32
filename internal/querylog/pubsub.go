package querylog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// AnswersChannel receives every answered question.
	AnswersChannel = "nlq:answers"
	intentPrefix   = "nlq:intent:"
)

// IntentChannel is the per-intent channel a record is also published to.
func IntentChannel(intent string) string {
	return intentPrefix + intent
}

// IntentPattern matches every per-intent channel.
const IntentPattern = intentPrefix + "*"

// Publisher broadcasts answered questions over Redis pub/sub.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{client: client, logger: logger}
}

// LogQuery publishes rec to the answers channel and to its intent channel.
func (p *Publisher) LogQuery(ctx context.Context, rec *models.QueryLog) error {
	cp := *rec
	cp.SQL = TruncateSQL(cp.SQL)
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal query log: %w", err)
	}

	channels := []string{AnswersChannel}
	if rec.Intent != "" {
		channels = append(channels, IntentChannel(rec.Intent))
	}

	pipe := p.client.Pipeline()
	for _, channel := range channels {
		pipe.Publish(ctx, channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish query log: %w", err)
	}
	return nil
}

func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (p *Publisher) Close() error { return nil }

// Subscribe delivers records from channel until ctx is cancelled.
func (p *Publisher) Subscribe(ctx context.Context, channel string, handler func(*models.QueryLog)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()
	return p.consume(ctx, sub, channel, handler)
}

// PSubscribe is Subscribe for a channel pattern such as IntentPattern.
func (p *Publisher) PSubscribe(ctx context.Context, pattern string, handler func(*models.QueryLog)) error {
	sub := p.client.PSubscribe(ctx, pattern)
	defer sub.Close()
	return p.consume(ctx, sub, pattern, handler)
}

func (p *Publisher) consume(ctx context.Context, sub *redis.PubSub, name string, handler func(*models.QueryLog)) error {
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	p.logger.WithField("channel", name).Info("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rec models.QueryLog
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				p.logger.WithError(err).WithField("channel", msg.Channel).Warn("skipping malformed query log message")
				continue
			}
			handler(&rec)
		}
	}
}
