package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/core"
)

var listedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleListing() KeyListing {
	active := core.NewKeyRecord("sk-live-0123456789abcdef", listedAt.Add(-time.Hour))
	active.RecordUse(listedAt.Add(-time.Minute))

	inactive := core.NewKeyRecord("sk-live-fedcba9876543210", listedAt.Add(-time.Hour))
	inactive.Deactivate(listedAt.Add(-15 * time.Second))

	return KeyListing{
		Records:  []core.KeyRecord{active, inactive},
		Cooldown: time.Minute,
		Now:      listedAt,
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("markdown")
	require.Error(t, err)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "sk-l...cdef", MaskKey("sk-live-0123456789abcdef"))
	require.Equal(t, "*****", MaskKey("short"))
	require.Equal(t, "", MaskKey(""))
}

func TestTableFormatterKeys(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatKeys(sampleListing())
	require.NoError(t, err)

	require.Contains(t, rendered, "sk-l...cdef")
	require.NotContains(t, rendered, "sk-live-0123456789abcdef")
	require.Contains(t, rendered, "45s")
	// go-pretty upper-cases footers.
	require.Contains(t, strings.ToLower(rendered), "2 keys")
	require.Contains(t, strings.ToLower(rendered), "1 inactive")
}

func TestTableFormatterRevealAndNeverUsed(t *testing.T) {
	listing := KeyListing{
		Records: []core.KeyRecord{core.NewKeyRecord("sk-new", listedAt)},
		Now:     listedAt,
		Reveal:  true,
	}
	rendered, err := (&TableFormatter{}).FormatKeys(listing)
	require.NoError(t, err)
	require.Contains(t, rendered, "sk-new")
	require.Contains(t, rendered, "never")
}

func TestJSONFormatterKeys(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatKeys(sampleListing())
	require.NoError(t, err)

	var payload struct {
		Keys []struct {
			Key               string `json:"key"`
			Status            string `json:"status"`
			CooldownRemaining int64  `json:"cooldown_remaining_seconds"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(rendered), &payload))
	require.Len(t, payload.Keys, 2)
	require.Equal(t, "sk-l...cdef", payload.Keys[0].Key)
	require.Equal(t, int64(0), payload.Keys[0].CooldownRemaining)
	require.Equal(t, "Inactive", payload.Keys[1].Status)
	require.Equal(t, int64(45), payload.Keys[1].CooldownRemaining)
	require.True(t, strings.HasPrefix(rendered, "{\n"))
}

func TestFormatStats(t *testing.T) {
	stats := core.PoolStats{TotalKeys: 3, ActiveKeys: 2, InactiveKeys: 1}

	rendered, err := NewFormatter(FormatTable).FormatStats(stats)
	require.NoError(t, err)
	require.Contains(t, rendered, "Inactive")

	rendered, err = (&JSONFormatter{}).FormatStats(stats)
	require.NoError(t, err)
	require.JSONEq(t, `{"total_keys":3,"active_keys":2,"inactive_keys":1}`, rendered)
}

func TestListingStats(t *testing.T) {
	require.Equal(t, core.PoolStats{TotalKeys: 2, ActiveKeys: 1, InactiveKeys: 1}, sampleListing().Stats())
}
