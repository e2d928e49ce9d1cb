package source

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/rickgao/marketfeed/internal/model"
)

// ErrEmptySource is returned when a provider answers with no usable assets.
var ErrEmptySource = errors.New("source returned no assets")

// Source fetches the current asset universe from one provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Asset, error)
}

// Func adapts a plain function to the Source interface.
type Func struct {
	SourceName string
	FetchFunc  func(ctx context.Context) ([]model.Asset, error)
}

// Name returns the source tag.
func (f Func) Name() string { return f.SourceName }

// Fetch calls FetchFunc.
func (f Func) Fetch(ctx context.Context) ([]model.Asset, error) { return f.FetchFunc(ctx) }

// AssetID builds the canonical "base-quote" id, e.g. "btc-usdt".
func AssetID(base, quote string) string {
	return strings.ToLower(base) + "-" + strings.ToLower(quote)
}

// normalizeQuotes upper-cases the preference list and drops blanks.
func normalizeQuotes(quotes []string) []string {
	out := make([]string, 0, len(quotes))
	for _, q := range quotes {
		q = strings.ToUpper(strings.TrimSpace(q))
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func containsQuote(quotes []string, q string) bool {
	for _, candidate := range quotes {
		if candidate == q {
			return true
		}
	}
	return false
}
