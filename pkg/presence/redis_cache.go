package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "presence:online"

// OnlineKey is the Redis set of online user ids for a conversation.
func OnlineKey(conversationID string) string {
	return "conversation:" + conversationID + ":online"
}

// RedisCache keeps per-conversation online sets so the API can answer
// "who is online here" without touching the gateway.
type RedisCache struct {
	rdb redis.UniversalClient
}

func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) MarkOnline(ctx context.Context, userID string, conversationIDs []string) error {
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, onlineUsersKey, userID)
	for _, id := range conversationIDs {
		pipe.SAdd(ctx, OnlineKey(id), userID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) MarkOffline(ctx context.Context, userID string, conversationIDs []string) error {
	pipe := c.rdb.TxPipeline()
	pipe.SRem(ctx, onlineUsersKey, userID)
	for _, id := range conversationIDs {
		pipe.SRem(ctx, OnlineKey(id), userID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineIn lists the online members of a conversation.
func (c *RedisCache) OnlineIn(ctx context.Context, conversationID string) ([]string, error) {
	return c.rdb.SMembers(ctx, OnlineKey(conversationID)).Result()
}

// IsOnline reports whether userID is online anywhere.
func (c *RedisCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	return c.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
}
