package ingest

import (
	"sort"
	"strings"

	"github.com/rickgao/marketfeed/internal/model"
)

// Normalize turns one source's raw assets into a publishable set:
// drop invalid prices, keep one asset per base symbol, order by size metric
// and assign dense ranks starting at 1.
//
// Among duplicates the asset quoted in the earlier preference entry wins;
// equal preference falls back to the higher 24h volume.
func Normalize(assets []model.Asset, quotePreference []string) []model.Asset {
	quoteRank := make(map[string]int, len(quotePreference))
	for i, q := range quotePreference {
		q = strings.ToUpper(q)
		if _, seen := quoteRank[q]; !seen {
			quoteRank[q] = i
		}
	}
	rankOf := func(q string) int {
		if r, ok := quoteRank[strings.ToUpper(q)]; ok {
			return r
		}
		return len(quotePreference)
	}

	out := make([]model.Asset, 0, len(assets))
	index := make(map[string]int, len(assets))

	for _, a := range assets {
		if !a.HasValidPrice() || a.ID == "" {
			continue
		}

		key := strings.ToUpper(a.Symbol)
		if key == "" {
			key = a.ID
		}

		i, dup := index[key]
		if !dup {
			index[key] = len(out)
			out = append(out, a.Clone())
			continue
		}

		cur := out[i]
		ra, rc := rankOf(a.Quote), rankOf(cur.Quote)
		if ra < rc || (ra == rc && a.VolumeUSD24Hr > cur.VolumeUSD24Hr) {
			out[i] = a.Clone()
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].SizeMetric(), out[j].SizeMetric()
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
