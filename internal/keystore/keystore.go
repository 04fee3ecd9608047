// Package keystore custodies secret seeds for users and custodial accounts.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no secret is stored for an owner.
var ErrNotFound = errors.New("secret not found")

// Keystore is the capability injected into services. Owner ids are the
// public keys of the accounts the secrets sign for.
type Keystore interface {
	Get(ctx context.Context, ownerID string) (string, error)
	Put(ctx context.Context, ownerID, secret string) error
	Delete(ctx context.Context, ownerID string) error
}

// Backend persists sealed values. Implementations return ErrNotFound when absent.
type Backend interface {
	PutSecret(ctx context.Context, ownerID, sealed string) error
	GetSecret(ctx context.Context, ownerID string) (string, error)
	DeleteSecret(ctx context.Context, ownerID string) error
}

// Sealed encrypts before writing and decrypts after reading.
type Sealed struct {
	backend Backend
	sealer  *Sealer
	logger  *zap.Logger
}

func NewSealed(backend Backend, sealer *Sealer, logger *zap.Logger) *Sealed {
	return &Sealed{backend: backend, sealer: sealer, logger: logger}
}

func (k *Sealed) Get(ctx context.Context, ownerID string) (string, error) {
	sealed, err := k.backend.GetSecret(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret, err := k.sealer.Open(ownerID, sealed)
	if err != nil {
		k.logger.Error("sealed secret could not be opened", zap.String("owner", ownerID), zap.Error(err))
		return "", err
	}
	return secret, nil
}

func (k *Sealed) Put(ctx context.Context, ownerID, secret string) error {
	sealed, err := k.sealer.Seal(ownerID, secret)
	if err != nil {
		return err
	}
	if err := k.backend.PutSecret(ctx, ownerID, sealed); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	k.logger.Debug("secret stored", zap.String("owner", ownerID))
	return nil
}

func (k *Sealed) Delete(ctx context.Context, ownerID string) error {
	if err := k.backend.DeleteSecret(ctx, ownerID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}
