package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrTargetGone marks a push destination the provider no longer accepts.
var ErrTargetGone = errors.New("push target no longer registered")

// TargetError is a delivery failure for one push destination.
type TargetError struct {
	Target Target
	Err    error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s target: %v", e.Target.Provider, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// GoneTargets extracts the destinations reported as unregistered from a
// (possibly combined) send error.
func GoneTargets(err error) []Target {
	var gone []Target
	for _, e := range multierr.Errors(err) {
		var te *TargetError
		if errors.As(e, &te) && errors.Is(te.Err, ErrTargetGone) {
			gone = append(gone, te.Target)
		}
	}
	return gone
}

// sendEach delivers to every target of the given provider and combines failures.
// With no matching target it is a no-op.
func sendEach(ctx context.Context, msg *Message, provider string, send func(context.Context, Target) error) error {
	var err error
	for _, t := range msg.Targets {
		if t.Provider != provider {
			continue
		}
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		if sendErr := send(ctx, t); sendErr != nil {
			err = multierr.Append(err, &TargetError{Target: t, Err: sendErr})
		}
	}
	return err
}
