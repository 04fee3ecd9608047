package ledger

import (
	"context"
	"fmt"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
)

// Path is one conversion route returned by the ledger's path finder.
type Path struct {
	SourceAsset       Asset   `json:"source_asset"`
	SourceAmount      int64   `json:"source_amount"`
	DestinationAsset  Asset   `json:"destination_asset"`
	DestinationAmount int64   `json:"destination_amount"`
	Hops              []Asset `json:"path"`
}

// Quote is the best route for converting into a fixed destination amount.
type Quote struct {
	Path
	Rate float64 `json:"rate"`
}

// FindPaths returns routes that let source deliver destAmount of dest, in the
// order Horizon ranks them. An empty slice means there is no liquidity.
func (c *Client) FindPaths(ctx context.Context, source string, dest Asset, destAmount int64) ([]Path, error) {
	req := c.pathsRequest(dest, destAmount)
	req.SourceAccount = source
	return c.strictReceive(ctx, req, dest)
}

// Quote returns the cheapest route from sourceAsset into destAmount of dest.
func (c *Client) Quote(ctx context.Context, sourceAsset, dest Asset, destAmount int64) (*Quote, error) {
	req := c.pathsRequest(dest, destAmount)
	req.SourceAssets = sourceAsset.horizonCanonical()
	paths, err := c.strictReceive(ctx, req, dest)
	if err != nil {
		return nil, err
	}

	var best *Path
	for i := range paths {
		p := &paths[i]
		if p.SourceAsset != sourceAsset && !(p.SourceAsset.IsNative() && sourceAsset.IsNative()) {
			continue
		}
		if best == nil || p.SourceAmount < best.SourceAmount {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNoPath
	}
	return &Quote{Path: *best, Rate: float64(best.SourceAmount) / float64(destAmount)}, nil
}

func (c *Client) pathsRequest(dest Asset, destAmount int64) horizonclient.PathsRequest {
	req := horizonclient.PathsRequest{
		DestinationAssetType: dest.horizonType(),
		DestinationAmount:    amount.StringFromInt64(destAmount),
	}
	if !dest.IsNative() {
		req.DestinationAssetCode = dest.Code
		req.DestinationAssetIssuer = dest.Issuer
	}
	return req
}

func (c *Client) strictReceive(ctx context.Context, req horizonclient.PathsRequest, dest Asset) ([]Path, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	page, err := c.horizon.Paths(req)
	if err != nil {
		return nil, fmt.Errorf("strict receive paths: %w", err)
	}
	out := make([]Path, 0, len(page.Embedded.Records))
	for _, rec := range page.Embedded.Records {
		p, err := convertPath(rec, dest)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func convertPath(rec hProtocol.Path, dest Asset) (Path, error) {
	src, err := amount.ParseInt64(rec.SourceAmount)
	if err != nil {
		return Path{}, fmt.Errorf("parse source amount %q: %w", rec.SourceAmount, err)
	}
	dst, err := amount.ParseInt64(rec.DestinationAmount)
	if err != nil {
		return Path{}, fmt.Errorf("parse destination amount %q: %w", rec.DestinationAmount, err)
	}
	p := Path{
		SourceAsset:       assetFromHorizon(rec.SourceAssetType, rec.SourceAssetCode, rec.SourceAssetIssuer),
		SourceAmount:      src,
		DestinationAsset:  dest,
		DestinationAmount: dst,
	}
	for _, hop := range rec.Path {
		p.Hops = append(p.Hops, assetFromHorizon(hop.Type, hop.Code, hop.Issuer))
	}
	return p, nil
}
