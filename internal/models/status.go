package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusKind names a StatusState variant.
type StatusKind string

const (
	StatusKindOk                 StatusKind = "ok"
	StatusKindExposed            StatusKind = "exposed"
	StatusKindSymptomatic        StatusKind = "symptomatic"
	StatusKindExposedSymptomatic StatusKind = "exposed_symptomatic"
	StatusKindPositiveTestResult StatusKind = "positive_test_result"
)

// StatusState is the user's current health status. It is a closed set of
// variants: Ok, Exposed, Symptomatic, ExposedSymptomatic and PositiveTestResult.
// All dates are concrete instants fixed at the moment of the transition that
// produced the state.
type StatusState interface {
	Kind() StatusKind
	isStatusState()
}

// Ok means no active exposure, symptom report or positive test.
type Ok struct{}

// Exposed means the device was near a confirmed case at StartDate.
type Exposed struct {
	StartDate time.Time
}

// Symptomatic means the user is self-isolating from StartDate and must check
// in at CheckinDate. Symptoms is never empty.
type Symptomatic struct {
	Symptoms    Symptoms
	StartDate   time.Time
	CheckinDate time.Time
}

// ExposedSymptomatic is Symptomatic with an exposure origin: StartDate is the
// originating exposure's start and Symptoms may be empty.
type ExposedSymptomatic struct {
	Symptoms    Symptoms
	StartDate   time.Time
	CheckinDate time.Time
}

// PositiveTestResult means a positive lab result governs the status.
// StartDate is the earliest known onset; Symptoms is carried over from a prior
// symptomatic record, if any.
type PositiveTestResult struct {
	Symptoms  Symptoms
	StartDate time.Time
}

func (Ok) Kind() StatusKind                 { return StatusKindOk }
func (Exposed) Kind() StatusKind            { return StatusKindExposed }
func (Symptomatic) Kind() StatusKind        { return StatusKindSymptomatic }
func (ExposedSymptomatic) Kind() StatusKind { return StatusKindExposedSymptomatic }
func (PositiveTestResult) Kind() StatusKind { return StatusKindPositiveTestResult }

func (Ok) isStatusState()                 {}
func (Exposed) isStatusState()            {}
func (Symptomatic) isStatusState()        {}
func (ExposedSymptomatic) isStatusState() {}
func (PositiveTestResult) isStatusState() {}

// StatesEqual reports whether a and b are the same variant with equal fields.
// Instants are compared with time.Time.Equal so that a state reloaded from
// storage in another location still compares equal.
func StatesEqual(a, b StatusState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case Ok:
		_, ok := b.(Ok)
		return ok
	case Exposed:
		y, ok := b.(Exposed)
		return ok && x.StartDate.Equal(y.StartDate)
	case Symptomatic:
		y, ok := b.(Symptomatic)
		return ok && x.Symptoms == y.Symptoms && x.StartDate.Equal(y.StartDate) && x.CheckinDate.Equal(y.CheckinDate)
	case ExposedSymptomatic:
		y, ok := b.(ExposedSymptomatic)
		return ok && x.Symptoms == y.Symptoms && x.StartDate.Equal(y.StartDate) && x.CheckinDate.Equal(y.CheckinDate)
	case PositiveTestResult:
		y, ok := b.(PositiveTestResult)
		return ok && x.Symptoms == y.Symptoms && x.StartDate.Equal(y.StartDate)
	default:
		return false
	}
}

// statusEnvelope is the storage and wire form of a StatusState.
type statusEnvelope struct {
	Kind        StatusKind `json:"kind"`
	Symptoms    *Symptoms  `json:"symptoms,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	CheckinDate *time.Time `json:"checkin_date,omitempty"`
}

// MarshalStatusState encodes a state as a JSON envelope tagged with its kind.
func MarshalStatusState(state StatusState) ([]byte, error) {
	var env statusEnvelope
	switch s := state.(type) {
	case Ok:
		env = statusEnvelope{Kind: StatusKindOk}
	case Exposed:
		env = statusEnvelope{Kind: StatusKindExposed, StartDate: &s.StartDate}
	case Symptomatic:
		env = statusEnvelope{Kind: StatusKindSymptomatic, Symptoms: &s.Symptoms, StartDate: &s.StartDate, CheckinDate: &s.CheckinDate}
	case ExposedSymptomatic:
		env = statusEnvelope{Kind: StatusKindExposedSymptomatic, Symptoms: &s.Symptoms, StartDate: &s.StartDate, CheckinDate: &s.CheckinDate}
	case PositiveTestResult:
		env = statusEnvelope{Kind: StatusKindPositiveTestResult, Symptoms: &s.Symptoms, StartDate: &s.StartDate}
	default:
		return nil, fmt.Errorf("cannot marshal status state of type %T", state)
	}
	return json.Marshal(env)
}

// UnmarshalStatusState decodes a JSON envelope produced by MarshalStatusState.
func UnmarshalStatusState(data []byte) (StatusState, error) {
	var env statusEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode status state: %w", err)
	}

	var symptoms Symptoms
	if env.Symptoms != nil {
		symptoms = *env.Symptoms
	}
	requireDate := func(field string, t *time.Time) (time.Time, error) {
		if t == nil {
			return time.Time{}, fmt.Errorf("status state %q is missing %s", env.Kind, field)
		}
		return *t, nil
	}

	switch env.Kind {
	case StatusKindOk:
		return Ok{}, nil
	case StatusKindExposed:
		start, err := requireDate("start_date", env.StartDate)
		if err != nil {
			return nil, err
		}
		return Exposed{StartDate: start}, nil
	case StatusKindSymptomatic, StatusKindExposedSymptomatic:
		start, err := requireDate("start_date", env.StartDate)
		if err != nil {
			return nil, err
		}
		checkin, err := requireDate("checkin_date", env.CheckinDate)
		if err != nil {
			return nil, err
		}
		if env.Kind == StatusKindSymptomatic {
			return Symptomatic{Symptoms: symptoms, StartDate: start, CheckinDate: checkin}, nil
		}
		return ExposedSymptomatic{Symptoms: symptoms, StartDate: start, CheckinDate: checkin}, nil
	case StatusKindPositiveTestResult:
		start, err := requireDate("start_date", env.StartDate)
		if err != nil {
			return nil, err
		}
		return PositiveTestResult{Symptoms: symptoms, StartDate: start}, nil
	default:
		return nil, fmt.Errorf("unknown status kind %q", env.Kind)
	}
}
