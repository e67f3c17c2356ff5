package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/keyrotor/keyrotor/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatKeys renders one row per key with usage and cooldown.
func (f *TableFormatter) FormatKeys(listing KeyListing) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Status", "Minute", "Day", "Last Used", "Cooldown"})

	for _, r := range listing.Records {
		key := r.Key
		if !listing.Reveal {
			key = MaskKey(key)
		}
		t.AppendRow(table.Row{
			key,
			string(r.Status),
			r.Usage.RequestsThisMinute,
			r.Usage.RequestsThisDay,
			lastUsedLabel(r.LastUsed, r.CreatedAt),
			cooldownLabel(r, listing.Cooldown, listing.Now),
		})
	}

	stats := listing.Stats()
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d keys", stats.TotalKeys),
		fmt.Sprintf("%d active", stats.ActiveKeys),
		"",
		"",
		"",
		fmt.Sprintf("%d inactive", stats.InactiveKeys),
	})

	return t.Render(), nil
}

// FormatStats renders pool counts as a two-column table.
func (f *TableFormatter) FormatStats(stats core.PoolStats) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Status", "Keys"})
	t.AppendRow(table.Row{"Active", stats.ActiveKeys})
	t.AppendRow(table.Row{"Inactive", stats.InactiveKeys})
	t.AppendFooter(table.Row{"Total", stats.TotalKeys})
	return t.Render(), nil
}

func lastUsedLabel(lastUsed, createdAt time.Time) string {
	if lastUsed.IsZero() || !lastUsed.After(createdAt) {
		return "never"
	}
	return lastUsed.UTC().Format(time.RFC3339)
}

func cooldownLabel(r core.KeyRecord, cooldown time.Duration, now time.Time) string {
	if r.Status != core.KeyStatusInactive {
		return "-"
	}
	if r.DeactivatedAt == nil {
		return "manual"
	}
	remaining := core.CooldownRemaining(r, cooldown, now)
	if remaining == 0 {
		return "due"
	}
	return fmt.Sprintf("%ds", remaining)
}
