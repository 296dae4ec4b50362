package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// chatLockTTL bounds how long a crashed run can hold a chat lock.
const chatLockTTL = 5 * time.Minute

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// chatLock is a per-chat SetNX lock layered over the storage-level status
// guard for multi-process deployments. A nil client degrades to the storage
// guard alone.
type chatLock struct {
	client *redis.Client
	key    string
	value  string
}

func newChatLock(client *redis.Client, chatID string) *chatLock {
	return &chatLock{
		client: client,
		key:    fmt.Sprintf("summary:lock:chat:%s", chatID),
		value:  uuid.NewString(),
	}
}

// TryLock acquires the lock without blocking; true when this holder won.
func (l *chatLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key, l.value, chatLockTTL).Result()
}

// Unlock releases the lock only when this holder still owns it.
func (l *chatLock) Unlock(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}
