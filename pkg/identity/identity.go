// Package identity is the thin adapter for session identities. The
// backend treats session ids as opaque strings; this local implementation
// mints UUIDs and validates their shape.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// Service mints and validates session identifiers.
type Service interface {
	Mint() string
	Validate(id string) error
}

// UUIDService is the local UUID-backed implementation.
type UUIDService struct{}

func NewUUIDService() *UUIDService { return &UUIDService{} }

// Mint returns a fresh session id.
func (*UUIDService) Mint() string { return uuid.NewString() }

// Validate rejects ids this service could not have minted.
func (*UUIDService) Validate(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	return nil
}
