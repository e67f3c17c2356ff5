package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/engine"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
	apperrors "github.com/keyrotor/keyrotor/internal/errors"
	"github.com/keyrotor/keyrotor/internal/metrics"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// AddKeyRequest is the body of POST /add.
type AddKeyRequest struct {
	Key string `json:"key"`
}

// AddBulkRequest is the body of POST /add_bulk.
type AddBulkRequest struct {
	Keys []string `json:"keys"`
}

// AddKeysResponse reports how many keys were inserted or overwritten.
type AddKeysResponse struct {
	Added int `json:"added"`
}

// KeyActionResponse echoes the key an admin action applied to.
type KeyActionResponse struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// KeysResponse is the body of GET /keys.
type KeysResponse struct {
	Keys []core.KeyRecord `json:"keys"`
}

// NextKeyResponse is the body of GET /next.
type NextKeyResponse struct {
	APIKey string `json:"api_key"`
}

// KeyHandlers serves the pool's HTTP surface.
type KeyHandlers struct {
	keys     *keystore.Store
	selector *engine.Selector
	clock    func() time.Time
}

// NewKeyHandlers wires handlers over the shared pool state.
func NewKeyHandlers(keys *keystore.Store, selector *engine.Selector) *KeyHandlers {
	return &KeyHandlers{keys: keys, selector: selector}
}

// SetClock overrides the time source for created/deactivated timestamps.
func (h *KeyHandlers) SetClock(clock func() time.Time) {
	h.clock = clock
}

// Routes mounts the pool endpoints on r.
func (h *KeyHandlers) Routes(r chi.Router) {
	r.Get("/next", h.Next)
	r.Post("/add", h.Add)
	r.Post("/add_bulk", h.AddBulk)
	r.Delete("/delete/{key}", h.Delete)
	r.Post("/deactivate/{key}", h.Deactivate)
	r.Post("/reactivate/{key}", h.Reactivate)
	r.Get("/keys", h.List)
	r.Get("/stats", h.Stats)
}

// Add inserts one Active key, overwriting any existing record.
func (h *KeyHandlers) Add(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if err := decodeBody(r, &req); err != nil {
		metrics.RecordKeyAdminAction("add", false)
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "malformed request body"))
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		metrics.RecordKeyAdminAction("add", false)
		respondWithError(w, r, apperrors.NewInvalidInputError("key must not be empty"))
		return
	}

	h.keys.Insert(core.NewKeyRecord(req.Key, h.now()))
	metrics.RecordKeyAdminAction("add", true)
	writeJSON(w, http.StatusCreated, AddKeysResponse{Added: 1})
}

// AddBulk inserts every key in the body. The batch is validated first, so a
// rejected request inserts nothing.
func (h *KeyHandlers) AddBulk(w http.ResponseWriter, r *http.Request) {
	var req AddBulkRequest
	if err := decodeBody(r, &req); err != nil {
		metrics.RecordKeyAdminAction("add_bulk", false)
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "malformed request body"))
		return
	}
	for i, key := range req.Keys {
		if strings.TrimSpace(key) == "" {
			metrics.RecordKeyAdminAction("add_bulk", false)
			respondWithError(w, r, apperrors.NewInvalidInputError(fmt.Sprintf("keys[%d] must not be empty", i)))
			return
		}
	}

	now := h.now()
	for _, key := range req.Keys {
		h.keys.Insert(core.NewKeyRecord(key, now))
	}
	metrics.RecordKeyAdminAction("add_bulk", true)
	writeJSON(w, http.StatusCreated, AddKeysResponse{Added: len(req.Keys)})
}

// Delete removes a key.
func (h *KeyHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	key := keyParam(r)
	if !h.keys.Remove(key) {
		h.notFound(w, r, "delete")
		return
	}
	metrics.RecordKeyAdminAction("delete", true)
	writeJSON(w, http.StatusOK, KeyActionResponse{Key: key, Action: "deleted"})
}

// Deactivate retires a key until it is reactivated or its cooldown elapses.
func (h *KeyHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	key := keyParam(r)
	now := h.now()
	if !h.keys.Mutate(key, func(rec *core.KeyRecord) { rec.Deactivate(now) }) {
		h.notFound(w, r, "deactivate")
		return
	}
	metrics.RecordKeyAdminAction("deactivate", true)
	writeJSON(w, http.StatusOK, KeyActionResponse{Key: key, Action: "deactivated"})
}

// Reactivate returns a key to service immediately.
func (h *KeyHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	key := keyParam(r)
	if !h.keys.Mutate(key, func(rec *core.KeyRecord) { rec.Reactivate() }) {
		h.notFound(w, r, "reactivate")
		return
	}
	metrics.RecordKeyAdminAction("reactivate", true)
	writeJSON(w, http.StatusOK, KeyActionResponse{Key: key, Action: "reactivated"})
}

// List returns every record in creation order.
func (h *KeyHandlers) List(w http.ResponseWriter, r *http.Request) {
	records := h.keys.Snapshot()
	core.SortRecords(records)
	writeJSON(w, http.StatusOK, KeysResponse{Keys: records})
}

// Stats returns key counts by status.
func (h *KeyHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.keys.Stats()
	metrics.SetPoolGauges(stats)
	writeJSON(w, http.StatusOK, stats)
}

// Next hands out one key under ?mode=auto|random.
func (h *KeyHandlers) Next(w http.ResponseWriter, r *http.Request) {
	mode := core.ParseSelectionMode(r.URL.Query().Get("mode"))

	key, err := h.selector.Next(r.Context(), mode)
	metrics.SetAggregateUsage(h.selector.Limiter.Current(), h.selector.Limiter.Limit())
	if err != nil {
		metrics.RecordSelection(mode, selectionOutcome(err))
		respondWithError(w, r, apperrors.FromPool(r.Context(), err))
		return
	}

	metrics.RecordSelection(mode, metrics.OutcomeSelected)
	writeJSON(w, http.StatusOK, NextKeyResponse{APIKey: key})
}

// notFound reports a missing key. The key itself stays out of the error text
// since the envelope context is logged.
func (h *KeyHandlers) notFound(w http.ResponseWriter, r *http.Request, action string) {
	metrics.RecordKeyAdminAction(action, false)
	err := fmt.Errorf("%s: %w", action, core.ErrKeyNotFound)
	respondWithError(w, r, apperrors.FromPool(r.Context(), err))
}

// keyParam returns the unescaped {key} path segment. chi routes on RawPath
// when the key contains escaped slashes, leaving the parameter encoded.
func keyParam(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return raw
	}
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

func (h *KeyHandlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now().UTC()
}

func selectionOutcome(err error) string {
	switch {
	case errors.Is(err, core.ErrRateLimitExceeded):
		return metrics.OutcomeRateLimited
	case errors.Is(err, core.ErrNoAvailableKey):
		return metrics.OutcomeNoKey
	default:
		return metrics.OutcomeError
	}
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// PoolHealthChecker reports the key pool as a health check.
type PoolHealthChecker struct {
	Keys *keystore.Store
}

// CheckHealth fails when the pool is not wired and degrades when no key is
// Active, since every selection would then fail.
func (c PoolHealthChecker) CheckHealth(ctx context.Context) error {
	if c.Keys == nil {
		return errors.New("key pool not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Keys.CountByStatus(core.KeyStatusActive) == 0 {
		return fmt.Errorf("no active keys: %w", ErrDegraded)
	}
	return nil
}
