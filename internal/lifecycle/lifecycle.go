// Package lifecycle enforces the phase order of deployments.
//
// A deployment moves created → burnin → deployed_to_field → recovered →
// retired. Burn-in is optional and retirement may happen from any phase,
// but nothing moves backwards and phase dates never decrease.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/rdb/internal/model"
)

// Phase is a deployment lifecycle state.
type Phase string

// Phases, in lifecycle order. None means no deployment has started.
const (
	None      Phase = ""
	Created   Phase = "created"
	Burnin    Phase = "burnin"
	ToField   Phase = "deployed_to_field"
	Recovered Phase = "recovered"
	Retired   Phase = "retired"
)

var (
	// ErrInvalidTransition is returned when a phase is requested out of order.
	ErrInvalidTransition = errors.New("invalid deployment phase transition")
	// ErrDateOrder is returned when a phase date precedes an earlier phase.
	ErrDateOrder = errors.New("deployment phase date precedes previous phase")
	// ErrMissingPosition is returned when a to-field transition lacks coordinates.
	ErrMissingPosition = errors.New("deployment to field requires latitude and longitude")
	// ErrActiveDeployment is returned when a build already has a running deployment.
	ErrActiveDeployment = errors.New("build already has an active deployment")
)

// allowed maps each target phase to the phases it may follow.
var allowed = map[Phase][]Phase{
	Created:   {None},
	Burnin:    {Created},
	ToField:   {Created, Burnin},
	Recovered: {ToField},
	Retired:   {Created, Burnin, ToField, Recovered},
}

var kindPhase = map[model.ActionKind]Phase{
	model.ActionStartDeployment:   Created,
	model.ActionDeploymentBurnin:  Burnin,
	model.ActionDeploymentToField: ToField,
	model.ActionDeploymentRecover: Recovered,
	model.ActionDeploymentRetire:  Retired,
}

// PhaseFor returns the phase an action kind moves a deployment into.
func PhaseFor(kind model.ActionKind) (Phase, bool) {
	p, ok := kindPhase[kind]
	return p, ok
}

// PhaseOf derives the current phase from the dates that are set.
func PhaseOf(d model.PhaseDates) Phase {
	switch {
	case d.RetireDate != nil:
		return Retired
	case d.RecoveryDate != nil:
		return Recovered
	case d.ToFieldDate != nil:
		return ToField
	case d.BurninDate != nil:
		return Burnin
	case d.StartDate != nil:
		return Created
	}
	return None
}

// latest returns the most recent date already recorded.
func latest(d model.PhaseDates) *time.Time {
	var last *time.Time
	for _, t := range []*time.Time{d.StartDate, d.BurninDate, d.ToFieldDate, d.RecoveryDate, d.RetireDate} {
		if t != nil && (last == nil || t.After(*last)) {
			last = t
		}
	}
	return last
}

// Check reports whether d may move into target at the given date.
func Check(d model.PhaseDates, target Phase, at time.Time) error {
	from, ok := allowed[target]
	if !ok {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, target)
	}
	current := PhaseOf(d)
	legal := false
	for _, p := range from {
		if p == current {
			legal = true
			break
		}
	}
	if !legal {
		if current == None {
			return fmt.Errorf("%w: %s before the deployment started", ErrInvalidTransition, target)
		}
		return fmt.Errorf("%w: %s after %s", ErrInvalidTransition, target, current)
	}

	if last := latest(d); last != nil && at.Before(*last) {
		return fmt.Errorf("%w: %s on %s is before %s",
			ErrDateOrder, target, at.Format(time.DateOnly), last.Format(time.DateOnly))
	}
	return nil
}

// Apply records the date of target on d without validating it.
func Apply(d *model.PhaseDates, target Phase, at time.Time) {
	t := at
	switch target {
	case Created:
		d.StartDate = &t
	case Burnin:
		d.BurninDate = &t
	case ToField:
		d.ToFieldDate = &t
	case Recovered:
		d.RecoveryDate = &t
	case Retired:
		d.RetireDate = &t
	}
}

// Advance validates and applies a transition.
func Advance(d *model.PhaseDates, target Phase, at time.Time) error {
	if err := Check(*d, target, at); err != nil {
		return err
	}
	Apply(d, target, at)
	return nil
}

// CheckPosition validates the coordinates required to go to the field.
func CheckPosition(lat, lon *float64) error {
	if lat == nil || lon == nil {
		return ErrMissingPosition
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return fmt.Errorf("%w: position %.5f, %.5f out of range", ErrMissingPosition, *lat, *lon)
	}
	return nil
}

// CanStart reports whether a build whose latest non-retired deployment is
// current may start a new one.
func CanStart(current *model.Deployment) error {
	if current != nil && PhaseOf(current.PhaseDates) != Retired {
		return fmt.Errorf("%w: %s", ErrActiveDeployment, current.DeploymentNumber)
	}
	return nil
}

// TimeAtSea returns how long a deployment spent in the field, or zero if
// it was never deployed or has not been recovered.
func TimeAtSea(d model.PhaseDates) time.Duration {
	if d.ToFieldDate == nil || d.RecoveryDate == nil || d.RecoveryDate.Before(*d.ToFieldDate) {
		return 0
	}
	return d.RecoveryDate.Sub(*d.ToFieldDate)
}
