package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

// DecisionCache is the durable store of verified (template, rule) compliance
// decisions. Entries have no expiry: a fresh visual run or a human override
// is the only way to replace one. Injected into the orchestrator so tests
// can swap in the in-memory implementation.
type DecisionCache interface {
	// Get returns nil on a miss.
	Get(ctx context.Context, templateID, ruleKey string) (*types.TemplateRuleCache, error)
	// Put is an idempotent last-write-wins upsert.
	Put(ctx context.Context, entry *types.TemplateRuleCache) error
	ListByTemplate(ctx context.Context, templateID string) ([]*types.TemplateRuleCache, error)
}

// dbDecisionCache keeps Postgres authoritative with an optional redis
// mirror in front. Redis failures degrade to DB reads, never to errors.
type dbDecisionCache struct {
	log  *logger.Logger
	repo repos.TemplateRuleCacheRepo
	rdb  *goredis.Client
}

func NewDecisionCache(log *logger.Logger, repo repos.TemplateRuleCacheRepo, rdb *goredis.Client) DecisionCache {
	return &dbDecisionCache{
		log:  log.With("service", "DecisionCache"),
		repo: repo,
		rdb:  rdb,
	}
}

func decisionKey(templateID, ruleKey string) string {
	return fmt.Sprintf("trc:%s:%s", templateID, ruleKey)
}

func (c *dbDecisionCache) Get(ctx context.Context, templateID, ruleKey string) (*types.TemplateRuleCache, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, decisionKey(templateID, ruleKey)).Bytes()
		if err == nil {
			var entry types.TemplateRuleCache
			if uErr := json.Unmarshal(raw, &entry); uErr == nil {
				return &entry, nil
			}
			// Corrupt mirror entry: fall through to the DB.
		} else if err != goredis.Nil {
			c.log.Warn("Redis read failed, falling back to Postgres", "error", err)
		}
	}

	entry, err := c.repo.Get(ctx, nil, templateID, ruleKey)
	if err != nil {
		return nil, err
	}
	if entry != nil && c.rdb != nil {
		c.mirror(ctx, entry)
	}
	return entry, nil
}

func (c *dbDecisionCache) Put(ctx context.Context, entry *types.TemplateRuleCache) error {
	if entry.VerifiedAt.IsZero() {
		entry.VerifiedAt = time.Now()
	}
	if err := c.repo.Upsert(ctx, nil, entry); err != nil {
		return err
	}
	if c.rdb != nil {
		c.mirror(ctx, entry)
	}
	return nil
}

func (c *dbDecisionCache) ListByTemplate(ctx context.Context, templateID string) ([]*types.TemplateRuleCache, error) {
	return c.repo.ListByTemplate(ctx, nil, templateID)
}

func (c *dbDecisionCache) mirror(ctx context.Context, entry *types.TemplateRuleCache) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, decisionKey(entry.TemplateID, entry.RuleKey), raw, 0).Err(); err != nil {
		c.log.Warn("Redis mirror write failed", "template_id", entry.TemplateID, "rule_key", entry.RuleKey, "error", err)
	}
}

// MemoryDecisionCache has the same semantics with no durability. Used in
// tests and single-process setups.
type MemoryDecisionCache struct {
	mu      sync.RWMutex
	entries map[string]*types.TemplateRuleCache
}

func NewMemoryDecisionCache() *MemoryDecisionCache {
	return &MemoryDecisionCache{entries: map[string]*types.TemplateRuleCache{}}
}

func (c *MemoryDecisionCache) Get(_ context.Context, templateID, ruleKey string) (*types.TemplateRuleCache, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[decisionKey(templateID, ruleKey)]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (c *MemoryDecisionCache) Put(_ context.Context, entry *types.TemplateRuleCache) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	if cp.VerifiedAt.IsZero() {
		cp.VerifiedAt = time.Now()
	}
	c.entries[decisionKey(cp.TemplateID, cp.RuleKey)] = &cp
	return nil
}

func (c *MemoryDecisionCache) ListByTemplate(_ context.Context, templateID string) ([]*types.TemplateRuleCache, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*types.TemplateRuleCache
	for _, entry := range c.entries {
		if entry.TemplateID == templateID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}
