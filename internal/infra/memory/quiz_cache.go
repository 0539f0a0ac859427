package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tutordesk/internal/app"
	"tutordesk/internal/domain"
)

var (
	_ app.QuizReader      = (*QuizCache)(nil)
	_ app.QuizInvalidator = (*QuizCache)(nil)
)

// QuizCache caches full quiz trees with TTL in front of the definition store
// to keep hot read paths (start, submit, roster) off the database.
type QuizCache struct {
	source app.QuizReader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[int64]cachedQuiz
}

type cachedQuiz struct {
	quiz      *domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(source app.QuizReader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedQuiz),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return copyQuiz(entry.quiz), nil
	}
	c.mu.RUnlock()

	key := quizKey(quizID)
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.quiz, nil
		}
		c.mu.RUnlock()

		quiz, err := c.source.GetQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return nil, err
	}
	return copyQuiz(result.(*domain.Quiz)), nil
}

// Invalidate drops the cached tree after a definition write so the next read
// sees the new version immediately.
func (c *QuizCache) Invalidate(_ context.Context, quizID int64) error {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
	c.sf.Forget(quizKey(quizID))
	return nil
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func quizKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10)
}
