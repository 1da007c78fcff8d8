// Package store defines the block-oriented CRUD interface to the host
// document store, the unit identifier grammar, and the capability probe that
// selects between batch and sequential mutation strategies.
package store

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrInvalidID   = errors.New("invalid unit id")
	ErrNotFound    = errors.New("unit not found")
	ErrUnavailable = errors.New("document store unavailable")
)

// Unit is one addressable structural element of the document.
type Unit struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	Subtype string `json:"subtype,omitempty"`
}

// Capabilities reports which optional kernel calls are available. Probed
// once per client and cached.
type Capabilities struct {
	BatchInsert bool
	BatchDelete bool
}

// Store is the only path through which the engine touches the document.
type Store interface {
	GetUnit(ctx context.Context, id string) (Unit, error)
	// QueryUnitsAfter returns up to limit units following rootID in document
	// order, independent of what is currently rendered.
	QueryUnitsAfter(ctx context.Context, rootID string, limit int) ([]Unit, error)
	QueryUnitsBefore(ctx context.Context, rootID string, limit int) ([]Unit, error)
	// InsertUnit creates a new unit immediately after anchorID and returns
	// its id.
	InsertUnit(ctx context.Context, content, anchorID string) (string, error)
	BatchInsertUnits(ctx context.Context, contents []string, anchorID string) ([]string, error)
	DeleteUnit(ctx context.Context, id string) error
	BatchDeleteUnits(ctx context.Context, ids []string) error
	UpdateUnit(ctx context.Context, id, content string) error
	Capabilities(ctx context.Context) (Capabilities, error)
}

// Unit ids are a 14-digit timestamp, a dash, and a 7-character lowercase
// alphanumeric suffix. Anything else is rejected before it reaches a query.
var unitIDPattern = regexp.MustCompile(`^[0-9]{14}-[0-9a-z]{7}$`)

func ValidID(id string) bool {
	return unitIDPattern.MatchString(id)
}

// ValidIDs reports whether every id in the slice passes the grammar.
func ValidIDs(ids []string) bool {
	for _, id := range ids {
		if !ValidID(id) {
			return false
		}
	}
	return len(ids) > 0
}
