package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// ErrStoreIO marks a failure of the backing storage itself (file system or
// database). It is the only condition a CredentialStore reports as an error;
// everything else is a Status.
var ErrStoreIO = errors.New("credential store I/O failure")

// ErrInvalidRecord is returned by EnsureRecord and imports for a record that
// cannot be stored as given. The storage is left untouched.
var ErrInvalidRecord = errors.New("invalid credential record")

// Status is the outcome of a credential store operation that did not fail
// with an I/O error.
type Status uint8

const (
	StatusOK Status = iota
	StatusAuthFailure
	StatusNotFound
	StatusDuplicateToken
	StatusNoChange
	StatusInvalidArgument
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAuthFailure:
		return "auth_failure"
	case StatusNotFound:
		return "not_found"
	case StatusDuplicateToken:
		return "duplicate_token"
	case StatusNoChange:
		return "no_change"
	case StatusInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// CredentialStore is the persistent source of truth for credential records.
//
// Every mutating call authenticates (admin, password) first and leaves the
// storage untouched unless it returns StatusOK. Implementations are not
// required to serialise concurrent callers; the gateway holds a store-wide
// lock around every call.
type CredentialStore interface {
	// Authenticate reports whether a record with exactly this identity and
	// password exists.
	Authenticate(ctx context.Context, id types.Identifier, password string) (bool, error)

	// AddToken appends token to target's token list. The token must not be
	// present in any record.
	AddToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) (Status, error)

	// DeleteToken removes token from target's token list if present.
	DeleteToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) (Status, error)

	// DeleteAllTokens empties target's token list and keeps the record.
	DeleteAllTokens(ctx context.Context, admin types.Identifier, password string, target types.Identifier) (Status, error)

	// GetRecord returns target's record in the persisted line format.
	GetRecord(ctx context.Context, admin types.Identifier, password string, target types.Identifier) (string, Status, error)

	// ListAllTokens returns every token of every record, tagged Authorized.
	ListAllTokens(ctx context.Context, admin types.Identifier, password string) ([]types.Token, Status, error)

	// EnsureRecord inserts rec when no record with its identity exists.
	// It reports whether a record was created. A record whose tokens are
	// malformed or already assigned fails with ErrInvalidRecord.
	EnsureRecord(ctx context.Context, rec types.Record) (bool, error)
}

// ValidToken reports whether id can be stored without breaking the record
// line format.
func ValidToken(id types.Identifier) bool {
	if id.IsZero() {
		return false
	}
	return !strings.ContainsAny(string(id), ";:$\r\n")
}

// CheckRecord validates rec before it is inserted: identity and password
// must be set and every token must be well formed and listed once.
func CheckRecord(rec types.Record) error {
	if _, err := types.NewRecord(rec.Name, rec.Identity, rec.Password, rec.Tokens...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	seen := make(map[types.Identifier]struct{}, len(rec.Tokens))
	for _, t := range rec.Tokens {
		if !ValidToken(t) {
			return fmt.Errorf("%w: token %q", ErrInvalidRecord, t)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: token %s listed twice", ErrInvalidRecord, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}
