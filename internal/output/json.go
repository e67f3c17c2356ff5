package output

import (
	"encoding/json"

	"github.com/keyrotor/keyrotor/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type keyView struct {
	core.KeyRecord
	CooldownRemaining int64 `json:"cooldown_remaining_seconds"`
}

// FormatKeys renders the listing as {"keys": [...]} with cooldown remaining per key.
func (f *JSONFormatter) FormatKeys(listing KeyListing) (string, error) {
	views := make([]keyView, 0, len(listing.Records))
	for _, r := range listing.Records {
		if !listing.Reveal {
			r.Key = MaskKey(r.Key)
		}
		views = append(views, keyView{
			KeyRecord:         r,
			CooldownRemaining: core.CooldownRemaining(r, listing.Cooldown, listing.Now),
		})
	}
	return f.marshal(map[string]any{"keys": views})
}

// FormatStats renders pool counts as JSON.
func (f *JSONFormatter) FormatStats(stats core.PoolStats) (string, error) {
	return f.marshal(stats)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
