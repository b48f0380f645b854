// internal/services/stats_service.go
package services

import (
	"maps"
	"sync"
	"time"
)

// UsageStats 表示进程启动以来的生成统计
type UsageStats struct {
	TodayRequests  int            `json:"today_requests"`
	MonthlyTokens  int            `json:"monthly_tokens"`
	FailedRequests int            `json:"failed_requests"`
	Fallbacks      int            `json:"fallbacks"`
	Exports        map[string]int `json:"exports"`
	DailyStats     map[string]int `json:"daily_stats"`
	MonthlyStats   map[string]int `json:"monthly_stats"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// StatsService 在内存中统计使用情况，进程退出即丢弃
type StatsService struct {
	mutex sync.Mutex
	stats *UsageStats
	now   func() time.Time
}

// NewStatsService 创建统计服务实例
func NewStatsService() *StatsService {
	return &StatsService{
		stats: newUsageStats(time.Now()),
		now:   time.Now,
	}
}

func newUsageStats(now time.Time) *UsageStats {
	return &UsageStats{
		Exports:      make(map[string]int),
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  now,
	}
}

// RecordGeneration 记录一次生成请求
func (s *StatsService) RecordGeneration(tokens int, structured bool, failed bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.rollPeriodLocked(now)

	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s.stats.TodayRequests++
	s.stats.DailyStats[today]++
	if failed {
		s.stats.FailedRequests++
	} else {
		s.stats.MonthlyTokens += tokens
		s.stats.MonthlyStats[month] += tokens
		if !structured {
			s.stats.Fallbacks++
		}
	}
	s.stats.LastUpdated = now
}

// RecordExport 记录一次导出
func (s *StatsService) RecordExport(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.rollPeriodLocked(now)
	s.stats.Exports[format]++
	s.stats.LastUpdated = now
}

// GetUsageStats 返回统计数据的深度副本
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rollPeriodLocked(s.now())

	out := *s.stats
	out.Exports = maps.Clone(s.stats.Exports)
	out.DailyStats = maps.Clone(s.stats.DailyStats)
	out.MonthlyStats = maps.Clone(s.stats.MonthlyStats)
	return &out
}

// ResetStats 重置统计数据
func (s *StatsService) ResetStats() {
	s.mutex.Lock()
	s.stats = newUsageStats(s.now())
	s.mutex.Unlock()
}

// rollPeriodLocked 跨天清零当日请求数，跨月清零月度令牌数
func (s *StatsService) rollPeriodLocked(now time.Time) {
	last := s.stats.LastUpdated
	if now.Format("2006-01-02") != last.Format("2006-01-02") {
		s.stats.TodayRequests = 0
	}
	if now.Format("2006-01") != last.Format("2006-01") {
		s.stats.MonthlyTokens = 0
	}
}
