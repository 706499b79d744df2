package record

import (
	"fmt"
	"strings"
	"time"
)

// Type tags which entity a row or queue entry refers to.
type Type string

const (
	TypeTeam       Type = "team"
	TypeTeamCode   Type = "team_code"
	TypeMatch      Type = "match"
	TypeTournament Type = "tournament"
	TypeTeamMember Type = "team_member"
)

var allTypes = []Type{TypeTeam, TypeTeamCode, TypeMatch, TypeTournament, TypeTeamMember}

// Types returns every known entity type.
func Types() []Type {
	return append([]Type(nil), allTypes...)
}

func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	return t, nil
}

// Key identifies one entity. IDs are only unique within a type.
type Key struct {
	Type Type
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + "/" + k.ID
}

// Entity is implemented by every cached domain model.
type Entity interface {
	RecordKey() Key
	Validate() error
}

// Meta is the sync bookkeeping stored next to every row.
type Meta struct {
	SyncAttempts      int
	Deleted           bool
	LastSyncTimestamp *int64
}

func (m Meta) Synced() bool {
	return m.LastSyncTimestamp != nil
}

// LastSyncedAt converts the epoch millis stamp, if any.
func (m Meta) LastSyncedAt() (time.Time, bool) {
	if m.LastSyncTimestamp == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*m.LastSyncTimestamp).UTC(), true
}

type Row struct {
	Entity Entity
	Meta   Meta
}

func (r Row) Key() Key {
	if r.Entity == nil {
		return Key{}
	}
	return r.Entity.RecordKey()
}

// As extracts the concrete entity from a row.
func As[T Entity](row Row) (T, bool) {
	v, ok := row.Entity.(T)
	return v, ok
}

// Eq is an equality predicate on a stored column.
type Eq struct {
	Field string
	Value any
}

// Query narrows GetAll. The zero value lists live rows newest first.
type Query struct {
	Equals         []Eq
	OrderBy        string
	Descending     bool
	Limit          int
	IncludeDeleted bool
}

func Where(field string, value any) Query {
	return Query{Equals: []Eq{{Field: field, Value: value}}}
}
