package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// Reconnecting stands in for a store that could not be opened at startup.
// Every Load and Save retries the open; until one succeeds they return the
// open error, so the persist job keeps reporting it on each tick.
type Reconnecting struct {
	cfg  config.StoreConfig
	open func(context.Context, config.StoreConfig) (Gateway, error)

	// OnRestore receives the records already persisted when the store first
	// becomes reachable from Save. That Save writes nothing, so the caller can
	// fold the records into the live pool before the next snapshot overwrites them.
	OnRestore func(records []core.KeyRecord)

	mu       sync.Mutex
	inner    Gateway
	lastErr  error
	restored bool
}

// NewReconnecting returns a gateway for cfg whose first open failed with cause.
func NewReconnecting(cfg config.StoreConfig, cause error) *Reconnecting {
	return &Reconnecting{cfg: cfg, open: Open, lastErr: cause}
}

// Connected reports whether the underlying store has been opened.
func (r *Reconnecting) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner != nil
}

// LastError returns the most recent open failure, or nil once connected.
func (r *Reconnecting) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Load opens the store if needed and reads it.
func (r *Reconnecting) Load(ctx context.Context) ([]core.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	records, err := g.Load(ctx)
	if err != nil {
		return nil, err
	}
	r.restored = true
	return records, nil
}

// Save opens the store if needed and writes records. The first save after a
// reconnect hands the persisted records to OnRestore instead of writing.
func (r *Reconnecting) Save(ctx context.Context, records []core.KeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.connect(ctx)
	if err != nil {
		return err
	}

	if !r.restored && r.OnRestore != nil {
		persisted, err := g.Load(ctx)
		if err != nil {
			return fmt.Errorf("load persisted keys after reconnect: %w", err)
		}
		r.restored = true
		r.OnRestore(persisted)
		return nil
	}
	r.restored = true
	return g.Save(ctx, records)
}

func (r *Reconnecting) Driver() string {
	driver := strings.ToLower(strings.TrimSpace(r.cfg.Driver))
	if driver == "" {
		return config.DriverFile
	}
	return driver
}

func (r *Reconnecting) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inner == nil {
		return nil
	}
	err := r.inner.Close()
	r.inner = nil
	return err
}

// connect must be called with r.mu held.
func (r *Reconnecting) connect(ctx context.Context) (Gateway, error) {
	if r.inner != nil {
		return r.inner, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := r.open(ctx, r.cfg)
	if err != nil {
		r.lastErr = err
		return nil, fmt.Errorf("store unavailable (%s): %w", Describe(r.cfg), err)
	}
	r.inner = g
	r.lastErr = nil
	return g, nil
}
