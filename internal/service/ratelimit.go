package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
)

// RateLimitResult 是一次配額檢查的結果
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // 不允許時，建議等待多久再試
}

// RateLimiter 基於共用計數存儲的分散式滑動窗口限流。
// check 與 record 分離：呼叫方可以只探測不扣配額，
// 並在每個邏輯嘗試只記帳一次。存儲不可用時放行並記錄日誌。
type RateLimiter struct {
	repo repository.RateLimitRepository
	now  func() time.Time
}

func NewRateLimiter(repo repository.RateLimitRepository) *RateLimiter {
	return &RateLimiter{repo: repo, now: time.Now}
}

// 限流鍵的命名空間，每個獨立計量的資源一個
func SubmitKey(userID uint) string {
	return fmt.Sprintf("submit:user:%d", userID)
}

func JudgeKey() string {
	return "judge:global"
}

// Check 清除窗口外的舊記錄後檢查配額，record 為真且允許時追加一筆記錄
func (l *RateLimiter) Check(ctx context.Context, key string, quota int, window time.Duration, record bool) RateLimitResult {
	now := l.now()

	if err := l.repo.PurgeBefore(key, now.Add(-window)); err != nil {
		return l.failOpen(key, quota, err)
	}

	count, err := l.repo.Count(key)
	if err != nil {
		return l.failOpen(key, quota, err)
	}

	if count >= int64(quota) {
		oldest, err := l.repo.Oldest(key)
		if err != nil {
			return l.failOpen(key, quota, err)
		}

		// 用最舊存活記錄的到期時間推算還要等多久
		retryAfter := oldest.CreatedAt.Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	remaining := quota - int(count)
	if record {
		entry := &models.RateLimitEntry{
			ID:        uuid.NewString(),
			Key:       key,
			CreatedAt: now,
		}
		if err := l.repo.Append(entry); err != nil {
			return l.failOpen(key, quota, err)
		}
		remaining--
	}

	return RateLimitResult{Allowed: true, Remaining: remaining}
}

// WaitFor 輪詢探測配額直到允許，等待上限應嚴格大於單次 RetryAfter
func (l *RateLimiter) WaitFor(ctx context.Context, key string, quota int, window time.Duration, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)

	for {
		result := l.Check(ctx, key, quota, window, false)
		if result.Allowed {
			return nil
		}

		if l.now().Add(result.RetryAfter).After(deadline) {
			return NewTimeoutError("等待限流窗口釋放超時", nil)
		}

		select {
		case <-ctx.Done():
			return NewTimeoutError("等待限流窗口時請求被取消", ctx.Err())
		case <-time.After(result.RetryAfter):
		}
	}
}

// failOpen 在存儲不可用時選擇可用性：放行請求，只記錄日誌
func (l *RateLimiter) failOpen(key string, quota int, err error) RateLimitResult {
	log.Printf("[ratelimit] store unavailable for key %s, failing open: %v", key, err)
	return RateLimitResult{Allowed: true, Remaining: quota}
}
