// Package redis backs the quiz cache and roster activity counters with a
// shared Redis, so several server replicas see the same state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var (
	_ app.QuizReader      = (*QuizCache)(nil)
	_ app.QuizInvalidator = (*QuizCache)(nil)
)

// QuizCache stores the full quiz tree as one JSON value per quiz:
// SET quiz:snapshot:{quizID} {json} EX ttl
// and falls back to the source reader on a miss.
type QuizCache struct {
	client *redis.Client
	source app.QuizReader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizCache(client *redis.Client, source app.QuizReader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	key := snapshotKey(quizID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if quiz, uerr := decodeQuiz(raw); uerr == nil {
			return quiz, nil
		}
		// Corrupt entry: drop it and reload below.
		_ = c.client.Del(ctx, key).Err()
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			if quiz, uerr := decodeQuiz(raw); uerr == nil {
				return quiz, nil
			}
		}

		quiz, err := c.source.GetQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}

		if data, merr := json.Marshal(quiz); merr == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Quiz), nil
}

// Invalidate drops the snapshot after a definition write. The next read
// reloads from the source and refills the cache.
func (c *QuizCache) Invalidate(ctx context.Context, quizID int64) error {
	key := snapshotKey(quizID)
	c.sf.Forget(key)
	return c.client.Del(ctx, key).Err()
}

func snapshotKey(quizID int64) string {
	return "quiz:snapshot:" + strconv.FormatInt(quizID, 10)
}

func decodeQuiz(raw []byte) (*domain.Quiz, error) {
	quiz := new(domain.Quiz)
	if err := json.Unmarshal(raw, quiz); err != nil {
		return nil, err
	}
	if quiz.ID == 0 {
		return nil, errors.New("empty snapshot")
	}
	return quiz, nil
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
