package application

import (
	"context"
	"errors"
)

// CheckpointRepository tracks, per aggregate, the highest event revision
// that has been successfully folded into the read model. Projections
// consult it to defer an envelope that arrives out of order under async
// dispatch, rather than applying a stale update over a newer one.
type CheckpointRepository interface {
	// LastRevision returns the last revision projected for aggregateID, or
	// 0 if no checkpoint exists yet.
	LastRevision(ctx context.Context, aggregateID string) (int64, error)

	// Advance records revision as the last one projected for
	// aggregateID. A checkpoint never moves backward: advancing to a
	// revision at or below the stored one leaves it unchanged and returns
	// nil.
	Advance(ctx context.Context, aggregateID string, revision int64) error
}

// ErrOutOfOrder is returned by UserProjector.Handle when an event arrives
// before its immediate predecessor has been folded in. AsyncDispatcher
// publishes each event kind to its own topic, so two events for the same
// aggregate carry no cross-topic ordering guarantee. Returning this error
// leaves the envelope unacked so the broker redelivers it; by the time that
// happens the predecessor has normally already caught up and advanced the
// checkpoint.
var ErrOutOfOrder = errors.New("usercore: event arrived before its predecessor")

// checkpointAction is what checkpointGuard decided should happen to an
// incoming event once its revision has been compared against the last one
// folded into the read model for that aggregate.
type checkpointAction int

const (
	// applyCheckpoint means revision is exactly last+1: fold the event in
	// and advance the checkpoint.
	applyCheckpoint checkpointAction = iota
	// skipCheckpoint means revision is at or below last: this event (or an
	// older one) was already folded in, most likely a redelivery.
	skipCheckpoint
	// deferCheckpoint means revision is ahead of last+1: the event's
	// predecessor hasn't arrived yet, so applying it now would leave the
	// read model permanently missing whatever the predecessor carried.
	deferCheckpoint
)

// checkpointGuard centralizes the "already applied, out of order, or ready"
// check shared by every projection handler below. A nil checkpoint
// repository always applies, since there is nothing to compare against.
func checkpointGuard(ctx context.Context, checkpoints CheckpointRepository, aggregateID string, revision int64) (checkpointAction, error) {
	if checkpoints == nil {
		return applyCheckpoint, nil
	}
	last, err := checkpoints.LastRevision(ctx, aggregateID)
	if err != nil {
		return applyCheckpoint, err
	}
	switch {
	case revision <= last:
		return skipCheckpoint, nil
	case revision > last+1:
		return deferCheckpoint, nil
	default:
		return applyCheckpoint, nil
	}
}
