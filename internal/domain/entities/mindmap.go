package entities

import (
	"strings"
	"time"

	pkgerrors "mapsync/pkg/errors"
)

// Map title rules
const (
	DefaultMapTitle = "Untitled Mind Map"
	MaxTitleLength  = 200
)

// MindMap is one shared mind-map document. Its nodes and edges live in
// separate collections keyed by the map id.
type MindMap struct {
	ID        string
	OwnerID   string
	Title     string
	Shared    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeTitle trims a title and checks it against the title rules.
// An empty title is an error; callers that want a default substitute it first.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", pkgerrors.NewValidationError("title cannot be empty")
	}
	if len([]rune(title)) > MaxTitleLength {
		return "", pkgerrors.NewValidationError("title is too long")
	}
	return title, nil
}
