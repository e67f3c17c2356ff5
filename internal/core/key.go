package core

import (
	"math"
	"slices"
	"strings"
	"time"
)

// KeyStatus is the availability state of a pooled key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "Active"
	KeyStatusInactive KeyStatus = "Inactive"
)

// KeyUsage holds the per-window request counters for a key.
type KeyUsage struct {
	RequestsThisMinute uint32 `json:"requests_this_minute"`
	RequestsThisDay    uint32 `json:"requests_this_day"`
}

// KeyRecord captures the full state of one pooled API key.
//
// The JSON shape is shared by the HTTP listing and every persistence backend.
type KeyRecord struct {
	Key           string     `json:"key"`
	Status        KeyStatus  `json:"status"`
	Usage         KeyUsage   `json:"usage"`
	LastUsed      time.Time  `json:"last_used"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
}

// NewKeyRecord returns an Active record with zeroed counters.
func NewKeyRecord(key string, now time.Time) KeyRecord {
	return KeyRecord{
		Key:       key,
		Status:    KeyStatusActive,
		LastUsed:  now,
		CreatedAt: now,
	}
}

// Clone returns a deep copy, detaching the optional timestamp.
func (k KeyRecord) Clone() KeyRecord {
	if k.DeactivatedAt != nil {
		value := *k.DeactivatedAt
		k.DeactivatedAt = &value
	}
	return k
}

// Deactivate retires the key and stamps the deactivation time.
func (k *KeyRecord) Deactivate(now time.Time) {
	k.Status = KeyStatusInactive
	k.DeactivatedAt = &now
}

// Reactivate returns the key to service and clears the deactivation time.
func (k *KeyRecord) Reactivate() {
	k.Status = KeyStatusActive
	k.DeactivatedAt = nil
}

// RecordUse counts one successful selection.
func (k *KeyRecord) RecordUse(now time.Time) {
	k.Usage.RequestsThisMinute++
	k.Usage.RequestsThisDay++
	k.LastUsed = now
}

// Eligible reports whether the key can be handed out under the given per-key limits.
func (k KeyRecord) Eligible(limits KeyLimits) bool {
	return k.Status == KeyStatusActive &&
		int64(k.Usage.RequestsThisMinute) < limits.PerMinute &&
		int64(k.Usage.RequestsThisDay) < limits.PerDay
}

// CooldownExpired reports whether an Inactive key has been retired for longer than cooldown.
func (k KeyRecord) CooldownExpired(cooldown time.Duration, now time.Time) bool {
	if k.Status != KeyStatusInactive || k.DeactivatedAt == nil {
		return false
	}
	return now.Sub(*k.DeactivatedAt) > cooldown
}

// CooldownRemaining returns the whole seconds left before the key is reinstated, or 0.
func CooldownRemaining(k KeyRecord, cooldown time.Duration, now time.Time) int64 {
	if k.DeactivatedAt == nil {
		return 0
	}
	remaining := cooldown - now.Sub(*k.DeactivatedAt)
	if remaining <= 0 {
		return 0
	}
	return int64(math.Floor(remaining.Seconds()))
}

// KeyLimits are the per-key request ceilings.
type KeyLimits struct {
	PerMinute int64
	PerDay    int64
}

// SelectionMode picks the policy used by the selector.
type SelectionMode string

const (
	SelectionAuto   SelectionMode = "auto"
	SelectionRandom SelectionMode = "random"
)

// ParseSelectionMode normalizes a mode string. Anything unrecognized selects auto.
func ParseSelectionMode(value string) SelectionMode {
	if strings.EqualFold(strings.TrimSpace(value), string(SelectionRandom)) {
		return SelectionRandom
	}
	return SelectionAuto
}

// PoolStats summarizes the pool by status.
type PoolStats struct {
	TotalKeys    int `json:"total_keys"`
	ActiveKeys   int `json:"active_keys"`
	InactiveKeys int `json:"inactive_keys"`
}

// SortRecords orders records by creation time, then identifier.
func SortRecords(records []KeyRecord) {
	slices.SortFunc(records, func(a, b KeyRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
}
