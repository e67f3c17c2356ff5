package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/keyrotor/keyrotor/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// KeyListing is a pool snapshot prepared for display.
type KeyListing struct {
	Records []core.KeyRecord
	// Cooldown is the retirement window used to compute time remaining.
	Cooldown time.Duration
	Now      time.Time
	// Reveal prints full keys instead of masking them.
	Reveal bool
}

// Stats counts the listing by status.
func (l KeyListing) Stats() core.PoolStats {
	stats := core.PoolStats{TotalKeys: len(l.Records)}
	for _, r := range l.Records {
		switch r.Status {
		case core.KeyStatusActive:
			stats.ActiveKeys++
		case core.KeyStatusInactive:
			stats.InactiveKeys++
		}
	}
	return stats
}

// Formatter renders key listings and pool stats.
type Formatter interface {
	FormatKeys(listing KeyListing) (string, error)
	FormatStats(stats core.PoolStats) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	if format == FormatJSON {
		return &JSONFormatter{Indent: true}
	}
	return &TableFormatter{}
}

// MaskKey keeps the first and last four characters of a key. Short keys are
// fully masked.
func MaskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 10 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}
