// Package mcp owns the MCP session registry and the client facade built on
// top of it. The registry vends one logical async client per serverId,
// lazily initializing it at most once per concurrent caller set, reusing
// it across callers, evicting it when idle, and closing it gracefully. No
// lock is ever held across an I/O boundary.
package mcp

import (
	"context"
	"sync"
	"time"

	sdk_client "github.com/mark3labs/mcp-go/client"
	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/mcp/transport"
)

type holderState int

const (
	stateInitializing holderState = iota
	stateActive
	stateError
	stateClosed
)

// sessionHolder is the registry's per-serverId bookkeeping. The init
// future is memoized: every concurrent caller racing to create the same
// session observes the exact same channel and therefore the exact same
// handshake.
type sessionHolder struct {
	serverID   string
	state      holderState
	client     sdk_client.MCPClient
	done       chan struct{} // closed once init completes (success or failure)
	initErr    error
	createdAt  time.Time
	lastAccess time.Time
}

// ServerLookup resolves the connection parameters for a serverId. The
// registry is deliberately ignorant of how those parameters are stored;
// cmd/chatrelay wiring supplies StoreLookup, an implementation backed by
// store.McpServerStore + secret.Decrypter.
type ServerLookup interface {
	Lookup(ctx context.Context, serverID string) (kind transport.Kind, baseURL, apiKey string, err error)
}

// Registry is the MCP Session Registry. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.Mutex
	holders map[string]*sessionHolder

	lookup ServerLookup
	dial   func(ctx context.Context, kind transport.Kind, baseURL, apiKey string, initTimeout time.Duration) (sdk_client.MCPClient, error)

	initializationTimeout time.Duration
	operationTimeout      time.Duration
	idleTimeout           time.Duration

	stopEviction chan struct{}
	evictionDone chan struct{}
}

// NewRegistry builds a Registry and starts its idle-eviction ticker. Call
// CloseAll on shutdown to stop the ticker and close every session.
func NewRegistry(lookup ServerLookup, initializationTimeout, operationTimeout, idleTimeout time.Duration) *Registry {
	r := &Registry{
		holders:               make(map[string]*sessionHolder),
		lookup:                lookup,
		dial:                  transport.Dial,
		initializationTimeout: initializationTimeout,
		operationTimeout:      operationTimeout,
		idleTimeout:           idleTimeout,
		stopEviction:          make(chan struct{}),
		evictionDone:          make(chan struct{}),
	}
	go r.evictionLoop()
	return r
}

// GetOrCreateSession returns the active client for serverId, initializing
// one if necessary. At most one initialize handshake is ever in flight per
// serverId: concurrent callers block on the same memoized channel and all
// observe the same client (or the same error).
func (r *Registry) GetOrCreateSession(ctx context.Context, serverID string) (sdk_client.MCPClient, error) {
	r.mu.Lock()
	h, ok := r.holders[serverID]
	if ok && h.state == stateActive {
		h.lastAccess = time.Now()
		cli := h.client
		r.mu.Unlock()
		return cli, nil
	}
	if ok && h.state == stateInitializing {
		// Join the in-flight initialization; do not start a second one.
		r.mu.Unlock()
		return r.awaitHolder(ctx, h)
	}
	// No usable holder: become the initializer.
	h = &sessionHolder{
		serverID:  serverID,
		state:     stateInitializing,
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	r.holders[serverID] = h
	r.mu.Unlock()

	go r.initialize(serverID, h)
	return r.awaitHolder(ctx, h)
}

func (r *Registry) initialize(serverID string, h *sessionHolder) {
	defer close(h.done)

	ctx, cancel := context.WithTimeout(context.Background(), r.operationTimeout)
	defer cancel()

	kind, baseURL, apiKey, err := r.lookup.Lookup(ctx, serverID)
	if err != nil {
		h.initErr = errs.Wrap(errs.NotFound, "mcp: resolve server "+serverID, err)
		r.markError(serverID, h)
		return
	}

	cli, err := r.dial(ctx, kind, baseURL, apiKey, r.initializationTimeout)
	if err != nil {
		h.initErr = err
		r.markError(serverID, h)
		return
	}

	r.mu.Lock()
	h.client = cli
	h.state = stateActive
	h.lastAccess = time.Now()
	r.mu.Unlock()
}

// markError transitions the holder to ERROR and removes it from the map so
// the next caller retries from scratch; a failed initialization must never
// poison future attempts.
func (r *Registry) markError(serverID string, h *sessionHolder) {
	r.mu.Lock()
	h.state = stateError
	if cur, ok := r.holders[serverID]; ok && cur == h {
		delete(r.holders, serverID)
	}
	r.mu.Unlock()
	log.Warn().Str("server_id", serverID).Err(h.initErr).Msg("mcp: session init failed")
}

func (r *Registry) awaitHolder(ctx context.Context, h *sessionHolder) (sdk_client.MCPClient, error) {
	select {
	case <-h.done:
		if h.initErr != nil {
			return nil, h.initErr
		}
		return h.client, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, "mcp: wait for session "+h.serverID, ctx.Err())
	}
}

// CloseSession closes and forgets the session for serverId, if any. Errors
// from the underlying transport close are logged and swallowed, matching
// the registry's never-throws-on-shutdown contract.
func (r *Registry) CloseSession(serverID string) {
	r.mu.Lock()
	h, ok := r.holders[serverID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.holders, serverID)
	h.state = stateClosed
	cli := h.client
	r.mu.Unlock()

	if cli == nil {
		return
	}
	if err := cli.Close(); err != nil {
		log.Warn().Str("server_id", serverID).Err(err).Msg("mcp: session close error")
	}
}

// CloseAll closes every active session and stops the eviction ticker. Safe
// to call once during shutdown.
func (r *Registry) CloseAll() {
	close(r.stopEviction)
	<-r.evictionDone

	r.mu.Lock()
	ids := make([]string, 0, len(r.holders))
	for id := range r.holders {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.CloseSession(id)
		}(id)
	}
	wg.Wait()
}

func (r *Registry) evictionLoop() {
	defer close(r.evictionDone)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopEviction:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	now := time.Now()
	r.mu.Lock()
	var stale []string
	for id, h := range r.holders {
		if h.state == stateActive && now.Sub(h.lastAccess) > r.idleTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		log.Info().Str("server_id", id).Msg("mcp: evicting idle session")
		r.CloseSession(id)
	}
}
