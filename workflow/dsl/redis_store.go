package dsl

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/flowforge/internal/cache"
)

// RedisSummaryStore 将工作流摘要以 JSON 形式保存在 Redis 中
type RedisSummaryStore struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewRedisSummaryStore 创建摘要存储。ttl 为 0 时使用 Manager 的默认过期时间
func NewRedisSummaryStore(manager *cache.Manager, ttl time.Duration) *RedisSummaryStore {
	return &RedisSummaryStore{cache: manager, ttl: ttl}
}

func summaryKey(workflowID string) string {
	return "workflow:summary:" + workflowID
}

// Put 写入摘要
func (s *RedisSummaryStore) Put(ctx context.Context, summary *Summary) error {
	if err := s.cache.SetJSON(ctx, summaryKey(summary.ID), summary, s.ttl); err != nil {
		return fmt.Errorf("store summary %s: %w", summary.ID, err)
	}
	return nil
}

// Get 读取摘要，不存在时返回 ok=false
func (s *RedisSummaryStore) Get(ctx context.Context, workflowID string) (*Summary, bool, error) {
	var summary Summary
	if err := s.cache.GetJSON(ctx, summaryKey(workflowID), &summary); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load summary %s: %w", workflowID, err)
	}
	return &summary, true, nil
}

// Delete 删除摘要
func (s *RedisSummaryStore) Delete(ctx context.Context, workflowID string) error {
	return s.cache.Delete(ctx, summaryKey(workflowID))
}

