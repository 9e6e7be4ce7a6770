package media

// Canonical genre vocabulary. Matches the genre taxonomy the indexer writes
// into point payloads; the orchestrator constrains core_genres to this set.
var canonicalGenres = []string{
	"Action",
	"Comedy",
	"Drama",
	"Romance",
	"Science Fiction",
	"Thriller",
	"Adventure",
	"Animation",
	"Crime",
	"Documentary",
	"Family",
	"Fantasy",
	"History",
	"Horror",
	"Music",
	"Mystery",
	"War",
	"Western",
}

var canonicalGenreSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(canonicalGenres))
	for _, g := range canonicalGenres {
		set[g] = struct{}{}
	}
	return set
}()

// CanonicalGenres returns the closed genre list in its canonical order.
func CanonicalGenres() []string {
	out := make([]string, len(canonicalGenres))
	copy(out, canonicalGenres)
	return out
}

// IsCanonicalGenre reports whether g is part of the closed genre vocabulary.
func IsCanonicalGenre(g string) bool {
	_, ok := canonicalGenreSet[g]
	return ok
}

// FilterCanonicalGenres returns the subset of genres that are canonical,
// preserving order and dropping duplicates.
func FilterCanonicalGenres(genres []string) []string {
	if len(genres) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		if _, canonical := canonicalGenreSet[g]; !canonical {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
