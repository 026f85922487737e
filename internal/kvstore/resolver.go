package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arkline/escrowd/internal/cache"
	"github.com/arkline/escrowd/internal/config"
)

// webhookURLKey is the KV-store key under which each oracle publishes its
// webhook endpoint.
const webhookURLKey = "webhook_url"

const cacheTTL = 10 * time.Minute

// Resolver looks up oracle webhook URLs in the per-chain on-chain KV store,
// via the chain gateway, with a Redis cache in front. KV entries change
// rarely, so a short TTL keeps lookups cheap without risking long staleness.
type Resolver struct {
	chains *config.ChainRegistry
	cache  cache.Cache
	client *http.Client
}

func NewResolver(chains *config.ChainRegistry, c cache.Cache) *Resolver {
	return &Resolver{
		chains: chains,
		cache:  c,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type kvResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WebhookURL returns the webhook endpoint registered by the given oracle on
// the given chain.
func (r *Resolver) WebhookURL(ctx context.Context, chainID int64, oracleAddress string) (string, error) {
	key := cache.OracleURLKey(chainID, oracleAddress)
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		return string(cached), nil
	}

	chain, err := r.chains.Get(chainID)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/kvstore/%s/%s", chain.GatewayURL, oracleAddress, webhookURLKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create kvstore request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kvstore lookup for %s: %w", oracleAddress, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kvstore lookup for %s returned %d", oracleAddress, resp.StatusCode)
	}

	var kv kvResponse
	if err := json.NewDecoder(resp.Body).Decode(&kv); err != nil {
		return "", fmt.Errorf("decode kvstore response: %w", err)
	}
	if kv.Value == "" {
		return "", fmt.Errorf("oracle %s has no %s entry on chain %d", oracleAddress, webhookURLKey, chainID)
	}

	// Best effort: a cache write failure must not fail the lookup.
	_ = r.cache.Set(ctx, key, []byte(kv.Value), cacheTTL)

	return kv.Value, nil
}
