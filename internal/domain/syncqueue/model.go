package syncqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown sync operation %q", raw)
	}
	return op, nil
}

// ErrEntityDeleted rejects writes to an entity whose delete is still pending.
var ErrEntityDeleted = errors.New("entity has a pending delete")

// Entry is one pending mutation. There is at most one per entity key.
type Entry struct {
	EntityType   record.Type
	EntityID     string
	Operation    Operation
	Payload      []byte
	SyncAttempts int
	// Revision grows every time another mutation is coalesced into the entry.
	Revision   int64
	LastError  string
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

func (e Entry) Key() record.Key {
	return record.Key{Type: e.EntityType, ID: e.EntityID}
}

// DeadLetter is an entry parked after a permanent failure or an exhausted retry budget.
type DeadLetter struct {
	ID           int64
	Entry        Entry
	ErrorKind    string
	ErrorMessage string
	FailedAt     time.Time
}

type Outcome int

const (
	// OutcomeInserted means no entry was pending for the entity.
	OutcomeInserted Outcome = iota
	// OutcomeCoalesced means the mutation merged into the pending entry.
	OutcomeCoalesced
	// OutcomeCancelled means a delete annihilated a never-dispatched create.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeCoalesced:
		return "coalesced"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Coalesce merges incoming into the pending entry for the same entity.
// leased reports whether a drain may currently be dispatching existing.
//
// Payloads are last-write-wins. Operations escalate: create+update stays a
// create, anything+delete becomes a delete, and a delete of a create that
// never left the device cancels both. A create that was dispatched before,
// even one that failed, may exist remotely, so its delete is still sent.
func Coalesce(existing *Entry, incoming Entry, leased bool) (Entry, Outcome, error) {
	if existing == nil {
		incoming.Revision = 1
		incoming.SyncAttempts = 0
		return incoming, OutcomeInserted, nil
	}
	if existing.Key() != incoming.Key() {
		return Entry{}, OutcomeInserted, fmt.Errorf("coalesce %s into %s: key mismatch", incoming.Key(), existing.Key())
	}

	merged := *existing
	merged.Payload = incoming.Payload
	merged.Revision = existing.Revision + 1
	merged.UpdatedAt = incoming.UpdatedAt

	switch {
	case existing.Operation == OperationDelete && incoming.Operation != OperationDelete:
		return Entry{}, OutcomeCoalesced, fmt.Errorf("%w: %s", ErrEntityDeleted, existing.Key())
	case incoming.Operation == OperationDelete:
		if existing.Operation == OperationCreate && existing.SyncAttempts == 0 && !leased {
			return Entry{}, OutcomeCancelled, nil
		}
		merged.Operation = OperationDelete
	case existing.Operation == OperationCreate:
		merged.Operation = OperationCreate
	default:
		merged.Operation = OperationUpdate
	}

	return merged, OutcomeCoalesced, nil
}
