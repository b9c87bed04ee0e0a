// Package history keeps a small per-conversation ring of recent messages
// in Redis so a reconnecting client can catch up without touching the
// REST message store. Writes happen off the live fanout path through a
// buffered queue; durable persistence stays with the REST layer.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/domain"
	"github.com/mentorhub/signaling/internal/metrics"
)

const writeTimeout = 2 * time.Second

type Store struct {
	rdb   *redis.Client
	limit int64
	queue chan domain.Message
}

func NewStore(rdb *redis.Client, limit, queueSize int) *Store {
	return &Store{
		rdb:   rdb,
		limit: int64(limit),
		queue: make(chan domain.Message, queueSize),
	}
}

func convKey(id domain.ConversationID) string {
	return fmt.Sprintf("conversations:%s:recent", id)
}

// Append enqueues a message for the background writer. Never blocks the
// fanout path; a full queue drops the write.
func (s *Store) Append(msg domain.Message) {
	select {
	case s.queue <- msg:
	default:
		metrics.HistoryDropped.Inc()
		log.Warn().Str("module", "history").Str("conv", string(msg.Conversation)).Msg("write queue full, dropping")
	}
}

// Run drains the write queue until ctx is cancelled. Each write is
// retried briefly with constant backoff before giving up on the message.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.write(ctx, msg)
		}
	}
}

func (s *Store) write(ctx context.Context, msg domain.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "history").Msg("marshal message")
		return
	}
	key := convKey(msg.Conversation)

	operation := func() error {
		opCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		pipe := s.rdb.TxPipeline()
		pipe.LPush(opCtx, key, b)
		pipe.LTrim(opCtx, key, 0, s.limit-1)
		_, err := pipe.Exec(opCtx)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 3),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		log.Error().Err(err).Str("module", "history").Str("conv", string(msg.Conversation)).Msg("history write failed")
	}
}

// Recent returns up to n cached messages for the conversation, oldest
// first, ready to replay on join.
func (s *Store) Recent(ctx context.Context, conv domain.ConversationID, n int) ([]domain.Message, error) {
	vals, err := s.rdb.LRange(ctx, convKey(conv), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history read: %w", err)
	}
	out := make([]domain.Message, 0, len(vals))
	// LPUSH stores newest first; walk backwards to replay in send order.
	for i := len(vals) - 1; i >= 0; i-- {
		var m domain.Message
		if err := json.Unmarshal([]byte(vals[i]), &m); err != nil {
			log.Warn().Err(err).Str("module", "history").Msg("skipping corrupt history entry")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
