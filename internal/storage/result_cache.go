// internal/storage/result_cache.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/utils"
)

// ResultCache 在内存中短暂保存生成结果，供同一次交互中的导出使用，不落盘
type ResultCache struct {
	cache      map[string]*ResultCacheEntry
	mutex      sync.RWMutex
	maxSize    int           // 最大缓存条目数
	expiration time.Duration // 缓存过期时间
	now        func() time.Time
}

// ResultCacheEntry 缓存条目
type ResultCacheEntry struct {
	Result    *models.DocumentResult
	CreatedAt time.Time
	LastRead  time.Time
}

// NewResultCache 创建结果缓存
func NewResultCache(maxSize int, expiration time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}

	if expiration <= 0 {
		expiration = 30 * time.Minute
	}

	return &ResultCache{
		cache:      make(map[string]*ResultCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
		now:        time.Now,
	}
}

// Put 保存结果，超出容量时淘汰最久未读取的条目
func (s *ResultCache) Put(result *models.DocumentResult) {
	if result == nil || result.ID == "" {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.cache[result.ID] = &ResultCacheEntry{
		Result:    result,
		CreatedAt: now,
		LastRead:  now,
	}

	if len(s.cache) > s.maxSize {
		// 通常清理 20%，至少 1 个
		s.cleanupLRU(max(1, s.maxSize/5))
	}

	utils.CachedResults.Set(float64(len(s.cache)))
}

// Get 读取结果，过期条目视为不存在并被删除
func (s *ResultCache) Get(id string) (*models.DocumentResult, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.cache[id]
	if !exists {
		return nil, false
	}

	now := s.now()
	if now.Sub(entry.CreatedAt) > s.expiration {
		delete(s.cache, id)
		utils.CachedResults.Set(float64(len(s.cache)))
		return nil, false
	}

	entry.LastRead = now
	return entry.Result, true
}

// Delete 从缓存中删除条目
func (s *ResultCache) Delete(id string) {
	s.mutex.Lock()
	delete(s.cache, id)
	utils.CachedResults.Set(float64(len(s.cache)))
	s.mutex.Unlock()
}

// Len 返回当前条目数（含尚未清理的过期条目）
func (s *ResultCache) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.cache)
}

// Clear 清空缓存
func (s *ResultCache) Clear() {
	s.mutex.Lock()
	s.cache = make(map[string]*ResultCacheEntry)
	utils.CachedResults.Set(0)
	s.mutex.Unlock()
}

// RemoveExpired 删除所有过期条目，返回删除数量
func (s *ResultCache) RemoveExpired() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.cache {
		if now.Sub(entry.CreatedAt) > s.expiration {
			delete(s.cache, id)
			removed++
		}
	}
	utils.CachedResults.Set(float64(len(s.cache)))
	return removed
}

// StartCleanup 定期清理过期条目，直到 ctx 结束
func (s *ResultCache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.RemoveExpired(); n > 0 {
					utils.GetLogger().Debug("清理过期结果", map[string]interface{}{"removed": n})
				}
			}
		}
	}()
}

// 清理最少使用的条目，调用方需持有写锁
func (s *ResultCache) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(s.cache))
	for k, v := range s.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}

	// 按最后读取时间排序
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(s.cache, entries[i].key)
	}
}
