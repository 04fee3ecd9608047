// Package keys provisions and validates ledger keypairs.
package keys

import (
	"fmt"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

// Pair is a full keypair. Seed is sensitive and must only travel to a keystore.
type Pair struct {
	full *keypair.Full
}

// Address returns the public G... key.
func (p *Pair) Address() string { return p.full.Address() }

// Seed returns the secret S... key.
func (p *Pair) Seed() string { return p.full.Seed() }

// Signer exposes the SDK keypair for transaction signing.
func (p *Pair) Signer() *keypair.Full { return p.full }

// Generate creates a new random keypair. No network calls are made.
func Generate() (*Pair, error) {
	full, err := keypair.Random()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Pair{full: full}, nil
}

// FromSecret derives the keypair for an externally supplied secret seed.
func FromSecret(secret string) (*Pair, error) {
	secret = strings.TrimSpace(secret)
	if strkey.IsValidEd25519PublicKey(secret) {
		return nil, domain.ErrPublicKeyAsSecret
	}
	if !strkey.IsValidEd25519SecretSeed(secret) {
		return nil, domain.ErrInvalidSecret
	}
	full, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, domain.ErrInvalidSecret
	}
	return &Pair{full: full}, nil
}

// ValidateAddress checks length, version byte and checksum of a public key.
func ValidateAddress(address string) error {
	if len(address) != 56 || !strkey.IsValidEd25519PublicKey(address) {
		return domain.ErrInvalidAddress
	}
	return nil
}
