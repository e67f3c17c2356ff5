package store

import (
	"context"
	"errors"
	"strings"

	"github.com/keyrotor/keyrotor/internal/core"
)

// KeyQuery selects persisted records for offline inspection and repair.
type KeyQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q KeyQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

// Match reports whether record is selected by q.
func (q KeyQuery) Match(record core.KeyRecord) bool {
	if q.All {
		return true
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return record.Key == key
	}
	return strings.HasPrefix(record.Key, strings.TrimSpace(q.Prefix))
}

// ListKeys returns the persisted records selected by q.
func ListKeys(ctx context.Context, gw Gateway, q KeyQuery) ([]core.KeyRecord, error) {
	if gw == nil {
		return nil, errors.New("store is not initialized")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, err := gw.Load(ctx)
	if err != nil {
		return nil, err
	}

	selected := []core.KeyRecord{}
	for _, record := range records {
		if q.Match(record) {
			selected = append(selected, record)
		}
	}
	return selected, nil
}

// ResetResult reports what ResetUsage touched.
type ResetResult struct {
	Matched int  `json:"matched"`
	Reset   int  `json:"reset"`
	DryRun  bool `json:"dry_run"`
}

// ResetUsage zeroes the usage counters of the selected persisted records.
// With dryRun nothing is written and Reset stays zero.
//
// Run it only while the service is stopped; a running server overwrites the
// store on its next persist tick.
func ResetUsage(ctx context.Context, gw Gateway, q KeyQuery, dryRun bool) (ResetResult, error) {
	result := ResetResult{DryRun: dryRun}
	if gw == nil {
		return result, errors.New("store is not initialized")
	}
	if err := q.Validate(); err != nil {
		return result, err
	}

	records, err := gw.Load(ctx)
	if err != nil {
		return result, err
	}

	for i := range records {
		if !q.Match(records[i]) {
			continue
		}
		result.Matched++
		if dryRun || records[i].Usage == (core.KeyUsage{}) {
			continue
		}
		records[i].Usage = core.KeyUsage{}
		result.Reset++
	}

	if dryRun || result.Reset == 0 {
		return result, nil
	}
	if err := gw.Save(ctx, records); err != nil {
		return result, err
	}
	return result, nil
}
