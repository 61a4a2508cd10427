// Package matcher pairs drafts with server entries when the create call did
// not echo identifiers back.
package matcher

import (
	"sort"

	"github.com/dvloznov/accountbook/internal/domain"
)

// Claimed is the set of server ids already assigned within one import batch.
type Claimed map[string]struct{}

// Claim marks id as taken. Empty ids are ignored.
func (c Claimed) Claim(id string) {
	if id != "" {
		c[id] = struct{}{}
	}
}

// Has reports whether id is taken.
func (c Claimed) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// Match returns one id per draft, in draft order, with "" for drafts that
// have no candidate left. Candidates sharing a key are offered highest id
// first, so the most recently created entry wins when ids grow monotonically.
// Every returned id is added to claimed; claimed may be nil.
func Match(drafts []domain.Draft, fresh []domain.LedgerEntry, claimed Claimed) []string {
	if claimed == nil {
		claimed = Claimed{}
	}

	groups := make(map[domain.MatchKey][]string)
	for _, e := range fresh {
		if e.ID == "" {
			continue
		}
		groups[e.Key()] = append(groups[e.Key()], e.ID)
	}
	for _, ids := range groups {
		sort.SliceStable(ids, func(i, j int) bool {
			return domain.CompareIDs(ids[i], ids[j]) > 0
		})
	}

	out := make([]string, len(drafts))
	for i, d := range drafts {
		for _, id := range groups[d.Key()] {
			if claimed.Has(id) {
				continue
			}
			claimed.Claim(id)
			out[i] = id
			break
		}
	}
	return out
}
