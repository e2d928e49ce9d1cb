package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxPageSize is the largest page CoinCap serves.
const MaxPageSize = 2000

// GetAssets fetches a page of assets.
func (c *Client) GetAssets(ctx context.Context, opts GetAssetsOptions) (*AssetsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if len(opts.IDs) > 0 {
		query.Set("ids", strings.Join(opts.IDs, ","))
	}

	var resp AssetsResponse
	if err := c.getJSON(ctx, "/assets", query, &resp); err != nil {
		return nil, errors.Wrap(err, "get assets")
	}

	return &resp, nil
}

// GetAllAssets pages through /assets until a short page or maxAssets is reached.
// pageSize <= 0 uses MaxPageSize; maxAssets <= 0 means no bound.
func (c *Client) GetAllAssets(ctx context.Context, pageSize, maxAssets int) ([]APIAsset, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var all []APIAsset
	opts := GetAssetsOptions{Limit: pageSize}

	for {
		if maxAssets > 0 {
			remaining := maxAssets - len(all)
			if remaining <= 0 {
				break
			}
			if remaining < opts.Limit {
				opts.Limit = remaining
			}
		}

		resp, err := c.GetAssets(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Data...)

		if len(resp.Data) < opts.Limit {
			break
		}
		opts.Offset += len(resp.Data)
	}

	return all, nil
}
