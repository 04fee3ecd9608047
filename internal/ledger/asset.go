package ledger

import (
	"fmt"
	"strings"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/txnbuild"

	"github.com/punchamoorthee/stellarremit/internal/domain"
	"github.com/punchamoorthee/stellarremit/internal/keys"
)

// Asset identifies a ledger asset. The zero Issuer with code XLM is native.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// Native returns the lumen asset.
func Native() Asset { return Asset{Code: "XLM"} }

// IsNative reports whether a is the lumen asset.
func (a Asset) IsNative() bool { return a.Issuer == "" && (a.Code == "XLM" || a.Code == "native" || a.Code == "") }

// String renders "XLM" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return "XLM"
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset accepts "XLM", "native" or "CODE:ISSUER".
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "xlm") || s == "native" {
		return Native(), nil
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok || code == "" || len(code) > 12 {
		return Asset{}, fmt.Errorf("invalid asset %q: want CODE:ISSUER", s)
	}
	if err := keys.ValidateAddress(issuer); err != nil {
		return Asset{}, fmt.Errorf("invalid asset issuer: %w", err)
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

// CreditAsset validates code and issuer for an asset about to be issued.
func CreditAsset(code, issuer string) (Asset, error) {
	if len(code) == 0 || len(code) > 12 {
		return Asset{}, domain.ErrInvalidAssetCode
	}
	for _, r := range code {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return Asset{}, domain.ErrInvalidAssetCode
		}
	}
	if err := keys.ValidateAddress(issuer); err != nil {
		return Asset{}, err
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

func assetFromHorizon(assetType, code, issuer string) Asset {
	if assetType == "native" {
		return Native()
	}
	return Asset{Code: code, Issuer: issuer}
}

func (a Asset) txnbuild() txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

func (a Asset) horizonType() horizonclient.AssetType {
	switch {
	case a.IsNative():
		return horizonclient.AssetTypeNative
	case len(a.Code) <= 4:
		return horizonclient.AssetType4
	default:
		return horizonclient.AssetType12
	}
}

// horizonCanonical renders the asset the way the paths endpoint expects it in source_assets.
func (a Asset) horizonCanonical() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}
