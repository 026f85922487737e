package kvstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/escrowd/internal/config"
)

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) Ping(ctx context.Context) error { return nil }

func testRegistry(t *testing.T, gatewayURL string) *config.ChainRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	data := fmt.Sprintf("chains:\n  - chain_id: 137\n    name: polygon\n    gateway_url: %s\n", gatewayURL)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	reg, err := config.LoadChains(path)
	require.NoError(t, err)
	return reg
}

func TestResolver_WebhookURL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/kvstore/0xoracle/webhook_url", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"key":"webhook_url","value":"https://oracle.example/webhook"}`)
	}))
	defer srv.Close()

	r := NewResolver(testRegistry(t, srv.URL), newMemCache())

	url, err := r.WebhookURL(context.Background(), 137, "0xoracle")
	require.NoError(t, err)
	assert.Equal(t, "https://oracle.example/webhook", url)

	// Second lookup is served from cache.
	url, err = r.WebhookURL(context.Background(), 137, "0xoracle")
	require.NoError(t, err)
	assert.Equal(t, "https://oracle.example/webhook", url)
	assert.Equal(t, 1, hits)
}

func TestResolver_WebhookURL_MissingEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"key":"webhook_url","value":""}`)
	}))
	defer srv.Close()

	r := NewResolver(testRegistry(t, srv.URL), newMemCache())

	_, err := r.WebhookURL(context.Background(), 137, "0xoracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no webhook_url entry")
}

func TestResolver_WebhookURL_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewResolver(testRegistry(t, srv.URL), newMemCache())

	_, err := r.WebhookURL(context.Background(), 137, "0xoracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 502")
}

func TestResolver_WebhookURL_UnknownChain(t *testing.T) {
	r := NewResolver(testRegistry(t, "http://unused"), newMemCache())

	_, err := r.WebhookURL(context.Background(), 1, "0xoracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chain")
}
