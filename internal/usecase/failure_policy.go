package usecase

import (
	"context"

	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/domain/syncqueue"
)

type FailureClass string

const (
	FailureClassNone       FailureClass = ""
	FailureClassNetwork    FailureClass = "network"
	FailureClassValidation FailureClass = "validation"
	FailureClassConflict   FailureClass = "conflict"
	FailureClassPermanent  FailureClass = "permanent"
)

// Decision is what the scheduler does with one dispatch result.
type Decision struct {
	Succeeded bool
	Retryable bool
	Class     FailureClass
	Kind      remote.Kind
	// Recompute asks the conflict resolver for a fresh local version after dead-lettering.
	Recompute bool
}

type FailurePolicy struct{}

func (FailurePolicy) Evaluate(entry syncqueue.Entry, err error) Decision {
	if err == nil {
		return Decision{Succeeded: true}
	}

	kind := remote.KindOf(err)
	switch kind {
	case remote.KindNetwork:
		return Decision{Retryable: true, Class: FailureClassNetwork, Kind: kind}
	case remote.KindValidation:
		return Decision{Class: FailureClassValidation, Kind: kind}
	case remote.KindConflict:
		return Decision{Class: FailureClassConflict, Kind: kind, Recompute: true}
	case remote.KindNotFound:
		// the row is already gone remotely, which is what a delete wanted
		if entry.Operation == syncqueue.OperationDelete {
			return Decision{Succeeded: true, Kind: kind}
		}
		return Decision{Class: FailureClassPermanent, Kind: kind}
	default:
		return Decision{Class: FailureClassPermanent, Kind: kind}
	}
}

// ConflictResolver rebuilds a dead-lettered entity from local state and
// resubmits it. Implementations decide which entity types they handle.
type ConflictResolver interface {
	Recompute(ctx context.Context, dl syncqueue.DeadLetter) error
}
