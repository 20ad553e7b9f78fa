package valueobjects

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces client-side identifiers for nodes and edges.
// Identifiers only need to be unique; callers must not parse them.
type IDGenerator interface {
	NewID() string
}

// ID strategies accepted by NewIDGenerator
const (
	IDStrategyUUID = "uuid"
	IDStrategyULID = "ulid"
)

// UUIDGenerator generates random version 4 UUIDs
type UUIDGenerator struct{}

// NewID returns a new random UUID string
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// ULIDGenerator generates lexicographically sortable ULIDs. ulid.Make uses a
// process-wide monotonic entropy source, so ids created within the same
// millisecond still sort in creation order.
type ULIDGenerator struct{}

// NewID returns a new ULID string
func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}

// NewIDGenerator returns the generator for the given strategy name. An empty
// strategy selects UUIDs.
func NewIDGenerator(strategy string) (IDGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", IDStrategyUUID:
		return UUIDGenerator{}, nil
	case IDStrategyULID:
		return ULIDGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}
