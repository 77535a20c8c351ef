package dsl

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/flowforge/workflow"
)

// CacheRecorder 接收摘要缓存命中情况，internal/metrics.Collector 实现了该接口
type CacheRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// SummaryStore 进程外的摘要存储
type SummaryStore interface {
	Put(ctx context.Context, summary *Summary) error
	Get(ctx context.Context, workflowID string) (*Summary, bool, error)
	Delete(ctx context.Context, workflowID string) error
}

const summaryCacheName = "workflow_summary"

type cacheEntry struct {
	def     *workflow.WorkflowDefinition
	summary *Summary
}

// definitionCache 以工作流 ID 为键缓存最近一次解析结果；超出容量时淘汰最早解析的条目
type definitionCache struct {
	entries  map[string]cacheEntry
	capacity int
	recorder CacheRecorder
	mu       sync.RWMutex
}

func newDefinitionCache() *definitionCache {
	return &definitionCache{entries: make(map[string]cacheEntry)}
}

func (c *definitionCache) put(def *workflow.WorkflowDefinition, summary *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[def.ID] = cacheEntry{def: def, summary: summary}
	if c.capacity <= 0 {
		return
	}
	for len(c.entries) > c.capacity {
		oldest := ""
		for id, e := range c.entries {
			if oldest == "" || e.summary.ParsedAt.Before(c.entries[oldest].summary.ParsedAt) ||
				(e.summary.ParsedAt.Equal(c.entries[oldest].summary.ParsedAt) && id < oldest) {
				oldest = id
			}
		}
		delete(c.entries, oldest)
	}
}

func (c *definitionCache) summary(id string) (*Summary, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	c.record(ok)
	if !ok {
		return nil, false
	}
	cp := *e.summary
	cp.Tags = append([]string(nil), e.summary.Tags...)
	return &cp, true
}

func (c *definitionCache) definition(id string) (*workflow.WorkflowDefinition, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	c.record(ok)
	if !ok {
		return nil, false
	}
	return e.def.Clone(), true
}

func (c *definitionCache) list() []Summary {
	c.mu.RLock()
	out := make([]Summary, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e.summary)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *definitionCache) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}

func (c *definitionCache) record(hit bool) {
	if c.recorder == nil {
		return
	}
	if hit {
		c.recorder.RecordCacheHit(summaryCacheName)
	} else {
		c.recorder.RecordCacheMiss(summaryCacheName)
	}
}
