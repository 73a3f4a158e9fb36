package gds

import "context"

type LinkKind int

const (
	LinkTrustedKinship LinkKind = iota
	LinkImputedKinship
	LinkSimilarity
)

// Link is a stored kinship or name-similarity relationship between two
// entities.
type Link struct {
	Source PersistentID
	Target PersistentID
	Kind   LinkKind
}

type Person struct {
	ID         PersistentID
	FirstName  string
	LastName   string
	Patronymic string
}

// FCRQuery asks for the family connection ratio of each primary entity.
// Communities maps persistent id to the window's community label.
type FCRQuery struct {
	PrimaryIDs  []PersistentID
	Communities map[PersistentID]int64
	StartMs     int64
	EndMs       int64
}

type InferredLink struct {
	Source      PersistentID
	Target      PersistentID
	Probability float64
	Variant     string
}

type WriteBack struct {
	RunID   string
	Window  string
	StartMs int64
	EndMs   int64
	Links   []InferredLink
}

// Store answers queries against the stored graph rather than a projection.
type Store interface {
	FamilyConnectionRatios(ctx context.Context, q FCRQuery) (map[PersistentID]float64, error)
	// Persons returns name attributes for those ids that carry a surname.
	Persons(ctx context.Context, ids []PersistentID) ([]Person, error)
	// Links returns kinship and similarity links with both endpoints in ids.
	Links(ctx context.Context, ids []PersistentID) ([]Link, error)
	// WriteInferredLinks replaces the inferred kinship edges of one window.
	WriteInferredLinks(ctx context.Context, wb WriteBack) (int, error)
}

// Backend is what a run needs from the graph side.
type Backend interface {
	Engine
	Store
	Close(ctx context.Context) error
}
