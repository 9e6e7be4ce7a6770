package media

import "log/slog"

// Streaming provider table. Names are user-facing; the numeric ids are what
// the vector store filter matches against watch_providers. The set is closed:
// it must stay in sync with the offline indexer's provider normalization.
var providerIDs = map[string]int64{
	"Netflix":             8,
	"Hulu":                15,
	"HBO Max":             1899,
	"Disney+":             337,
	"Apple TV+":           350,
	"Amazon Prime Video":  9,
	"Paramount+":          531,
	"Peacock Premium":     386,
	"MGM+":                34,
	"Starz":               43,
	"AMC+":                526,
	"Crunchyroll":         283,
	"BritBox":             151,
	"Acorn TV":            87,
	"Criterion Channel":   258,
	"Tubi TV":             73,
	"Pluto TV":            300,
	"The Roku Channel":    207,
}

// ProviderID resolves a provider display name to its numeric id.
func ProviderID(name string) (int64, bool) {
	id, ok := providerIDs[name]
	return id, ok
}

// ProviderName resolves a numeric id back to its display name. Rerun patches
// carry ids; the spec stores names.
func ProviderName(id int64) (string, bool) {
	for name, pid := range providerIDs {
		if pid == id {
			return name, true
		}
	}
	return "", false
}

// ProviderNames returns the closed set of known provider names.
func ProviderNames() []string {
	names := make([]string, 0, len(providerIDs))
	for name := range providerIDs {
		names = append(names, name)
	}
	return names
}

// ResolveProviders maps provider names to ids, dropping unknown names with a
// warning. The result preserves input order.
func ResolveProviders(names []string) []int64 {
	if len(names) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := providerIDs[name]
		if !ok {
			slog.Warn("Dropping unknown streaming provider", "provider", name)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
