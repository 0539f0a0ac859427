package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tutordesk/internal/app"
	"tutordesk/internal/infra/memory"
)

var _ app.RosterFeed = (*RosterFeed)(nil)

// RosterFeed is a Redis-aware feed for live roster watchers.
// Notes:
//   - Local watchers reuse the in-process coalescing feed; Redis pub/sub
//     carries notifications between replicas so a submit on one instance
//     wakes watchers connected to another.
//   - A liveness key per quiz marks which quizzes currently have watchers.
type RosterFeed struct {
	client *redis.Client
	local  *memory.RosterFeed
	ttl    time.Duration
}

func NewRosterFeed(client *redis.Client, ttl time.Duration) *RosterFeed {
	return &RosterFeed{
		client: client,
		local:  memory.NewRosterFeed(),
		ttl:    ttl,
	}
}

func (f *RosterFeed) Subscribe(quizID int64) (<-chan struct{}, func()) {
	ch, cancelLocal := f.local.Subscribe(quizID)

	ctx, cancelCtx := context.WithCancel(context.Background())
	sub := f.client.Subscribe(ctx, channelKey(quizID))
	go func() {
		for range sub.Channel() {
			f.local.Notify(quizID)
		}
	}()

	// best-effort liveness marker
	_ = f.client.Set(ctx, livenessKey(quizID), "1", f.ttl).Err()

	cancel := func() {
		_ = sub.Close()
		cancelCtx()
		cancelLocal()
	}
	return ch, cancel
}

// Notify publishes to every replica; the local feed is signaled directly so
// in-process watchers do not depend on the Redis round trip.
func (f *RosterFeed) Notify(quizID int64) {
	f.local.Notify(quizID)
	_ = f.client.Publish(context.Background(), channelKey(quizID), "1").Err()
}

func channelKey(quizID int64) string {
	return "quiz:roster:" + strconv.FormatInt(quizID, 10)
}

func livenessKey(quizID int64) string {
	return "quiz:roster:live:" + strconv.FormatInt(quizID, 10)
}
