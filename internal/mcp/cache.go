package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/observability"
)

// DefaultGrace is how long an unreferenced instance is kept alive. A
// session reconnecting within the window reuses the running process
// instead of paying a fresh handshake.
const DefaultGrace = 30 * time.Second

// managedClient is the slice of Client the cache manages; tests swap
// in fakes.
type managedClient interface {
	ServerHandle
	Connect(ctx context.Context) error
	Close() error
	ServerInfo() ServerInfo
}

// Cache shares MCP server instances across sessions. Entries are keyed
// by InstanceKey and ref-counted: acquiring an existing key joins the
// running instance, and an instance whose last holder releases it is
// torn down only after the grace period passes without a re-acquire.
// One Cache is created at startup and owned by the gateway.
type Cache struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	grace   time.Duration

	// newClient exists so tests can supply fake servers.
	newClient func(srv config.MergedMcpServer, logger *slog.Logger) managedClient

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	key    string
	client managedClient
	refs   int
	timer  *time.Timer

	// ready is closed once the initial connect finished; err holds its
	// outcome for acquirers that joined while it was in flight.
	ready chan struct{}
	err   error
}

// NewCache creates an empty instance cache.
func NewCache(logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:  logger.With("component", "mcp_cache"),
		metrics: metrics,
		grace:   DefaultGrace,
		newClient: func(srv config.MergedMcpServer, logger *slog.Logger) managedClient {
			return NewClient(srv, logger)
		},
		entries: make(map[string]*cacheEntry),
	}
}

// Instance is one acquired handle on a shared MCP server. Release it
// when the session is done; the backing process survives until every
// holder has released and the grace period expires.
type Instance struct {
	entry   *cacheEntry
	cache   *Cache
	release sync.Once
}

// Key returns the instance key the handle was acquired under.
func (i *Instance) Key() string { return i.entry.key }

// Handle returns the tool-calling surface of the instance.
func (i *Instance) Handle() ServerHandle { return i.entry.client }

// Release drops this holder's reference. Safe to call more than once.
func (i *Instance) Release() {
	i.release.Do(func() { i.cache.releaseEntry(i.entry) })
}

// Acquire returns a handle on the instance for the given server,
// starting it if no live instance shares its key. A failed connect is
// not cached; the next acquire retries.
func (c *Cache) Acquire(ctx context.Context, srv config.MergedMcpServer) (*Instance, error) {
	key := InstanceKey(srv)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.refs++
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		c.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			c.releaseEntry(e)
			return nil, ctx.Err()
		}
		if e.err != nil {
			c.releaseEntry(e)
			return nil, e.err
		}
		return &Instance{entry: e, cache: c}, nil
	}

	e = &cacheEntry{
		key:    key,
		client: c.newClient(srv, c.logger),
		refs:   1,
		ready:  make(chan struct{}),
	}
	c.entries[key] = e
	c.mu.Unlock()

	if err := e.client.Connect(ctx); err != nil {
		e.err = fmt.Errorf("connect mcp server %q: %w", srv.Id, err)
	}
	close(e.ready)

	if e.err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		e.client.Close()
		return nil, e.err
	}

	// The cache may have been shut down while we were connecting; if
	// our entry is gone, nobody else will close the client.
	c.mu.Lock()
	if c.entries[key] != e {
		c.mu.Unlock()
		e.client.Close()
		return nil, fmt.Errorf("mcp cache closed")
	}
	c.mu.Unlock()

	c.metrics.McpInstanceStarted()
	info := e.client.ServerInfo()
	c.logger.Info("mcp instance started",
		"server", srv.Id,
		"reports", info.Name+" "+info.Version,
		"key", shortKey(key))
	return &Instance{entry: e, cache: c}, nil
}

func (c *Cache) releaseEntry(e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.key] != e {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	e.timer = time.AfterFunc(c.grace, func() { c.evict(e) })
}

// evict tears an entry down once the grace period has passed. A racing
// re-acquire wins: if the entry picked up references again, or was
// already replaced, nothing happens.
func (c *Cache) evict(e *cacheEntry) {
	c.mu.Lock()
	if c.entries[e.key] != e || e.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, e.key)
	c.mu.Unlock()

	if err := e.client.Close(); err != nil {
		c.logger.Warn("mcp instance close failed", "key", shortKey(e.key), "error", err)
	}
	c.metrics.McpInstanceStopped()
	c.logger.Info("mcp instance torn down", "key", shortKey(e.key))
}

// Close tears down every connected instance immediately, skipping the
// grace period. Called on server shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for key, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		select {
		case <-e.ready:
		default:
			// Still connecting; the acquiring goroutine finds its entry
			// gone and closes the client itself.
			continue
		}
		if e.err != nil {
			continue
		}
		if err := e.client.Close(); err != nil {
			c.logger.Warn("mcp instance close failed", "key", shortKey(key), "error", err)
		}
		c.metrics.McpInstanceStopped()
	}
}

// Len reports the number of live instances, connecting ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
