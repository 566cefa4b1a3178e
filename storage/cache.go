package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pixrouter/observability/metrics"
	"pixrouter/selector"
)

const defaultCachePrefix = "pixrouter:"

// CachedRepository is a read-through Redis layer in front of a
// Repository. Version reads are immutable and cache for the full TTL;
// the active-ruleset pointer caches briefly and is dropped on local
// activations. Redis being down degrades to the inner repository.
type CachedRepository struct {
	inner     Repository
	client    *redis.Client
	ttl       time.Duration
	activeTTL time.Duration
	prefix    string
	metrics   *metrics.StorageMetrics
}

func NewCachedRepository(inner Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	activeTTL := 5 * time.Second
	if ttl < activeTTL {
		activeTTL = ttl
	}
	return &CachedRepository{
		inner:     inner,
		client:    client,
		ttl:       ttl,
		activeTTL: activeTTL,
		prefix:    defaultCachePrefix,
		metrics:   metrics.Storage(),
	}
}

func (c *CachedRepository) versionKey(rulesetID, version int64) string {
	return c.prefix + "ruleset:" + strconv.FormatInt(rulesetID, 10) + ":" + strconv.FormatInt(version, 10)
}

func (c *CachedRepository) activeKey() string {
	return c.prefix + "active"
}

// Ruleset serves a stored version from Redis when possible.
func (c *CachedRepository) Ruleset(ctx context.Context, rulesetID, version int64) (*selector.Document, error) {
	key := c.versionKey(rulesetID, version)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		if doc, perr := selector.ParseDocument(raw); perr == nil {
			c.metrics.RecordCacheHit("ruleset")
			return doc, nil
		}
	}
	c.metrics.RecordCacheMiss("ruleset")

	doc, err := c.inner.Ruleset(ctx, rulesetID, version)
	if err != nil {
		return nil, err
	}
	if raw, jerr := doc.JSON(); jerr == nil {
		c.client.Set(ctx, key, raw, c.ttl)
	}
	return doc, nil
}

type activeEntry struct {
	Document   json.RawMessage `json:"document"`
	Activation Activation      `json:"activation"`
}

// ActiveRuleset serves the active pointer from Redis within a short TTL.
func (c *CachedRepository) ActiveRuleset(ctx context.Context) (*selector.Document, *Activation, error) {
	key := c.activeKey()
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var entry activeEntry
		if jerr := json.Unmarshal(raw, &entry); jerr == nil {
			if doc, perr := selector.ParseDocument(entry.Document); perr == nil {
				c.metrics.RecordCacheHit("active_ruleset")
				return doc, &entry.Activation, nil
			}
		}
	}
	c.metrics.RecordCacheMiss("active_ruleset")

	doc, act, err := c.inner.ActiveRuleset(ctx)
	if err != nil {
		return nil, nil, err
	}
	if docRaw, jerr := doc.JSON(); jerr == nil {
		if raw, merr := json.Marshal(activeEntry{Document: docRaw, Activation: *act}); merr == nil {
			c.client.Set(ctx, key, raw, c.activeTTL)
		}
	}
	return doc, act, nil
}

// Activate records the activation and drops the cached active pointer so
// this instance observes its own write immediately.
func (c *CachedRepository) Activate(ctx context.Context, rulesetID, version int64, actor, note string) (*Activation, error) {
	act, err := c.inner.Activate(ctx, rulesetID, version, actor, note)
	if err != nil {
		return nil, err
	}
	c.client.Del(ctx, c.activeKey())
	return act, nil
}

// SaveRuleset stores the version and pre-warms its cache entry.
func (c *CachedRepository) SaveRuleset(ctx context.Context, doc *selector.Document, actor string) (*RuleSet, error) {
	row, err := c.inner.SaveRuleset(ctx, doc, actor)
	if err != nil {
		return nil, err
	}
	if raw, jerr := doc.JSON(); jerr == nil {
		c.client.Set(ctx, c.versionKey(doc.ID, doc.Version), raw, c.ttl)
	}
	return row, nil
}

func (c *CachedRepository) LatestVersion(ctx context.Context, rulesetID int64) (int64, error) {
	return c.inner.LatestVersion(ctx, rulesetID)
}

func (c *CachedRepository) ListRulesets(ctx context.Context, rulesetID int64) ([]RuleSet, error) {
	return c.inner.ListRulesets(ctx, rulesetID)
}

func (c *CachedRepository) Activations(ctx context.Context, limit int) ([]Activation, error) {
	return c.inner.Activations(ctx, limit)
}

func (c *CachedRepository) Gateways(ctx context.Context) ([]GatewayConfig, error) {
	return c.inner.Gateways(ctx)
}

func (c *CachedRepository) UpsertGateway(ctx context.Context, gw GatewayConfig) error {
	return c.inner.UpsertGateway(ctx, gw)
}
