// Package action turns clinical intents detected by the model into external
// effects.
//
// Intents arrive from two origins: the action list embedded in a
// classification response, and function calls issued by the model. Both are
// normalized into DetectedAction values, forwarded to a webhook, and recorded
// in the session's action list. Function calls additionally get a result sent
// back to the model.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kronktech/sully/pkg/jsontime"
)

// Type identifies the kind of clinical action.
type Type string

const (
	TypeScheduleFollowup Type = "schedule_followup"
	TypeOrderLab         Type = "order_lab"
)

// DefaultUrgency is the lab urgency used when none was given.
const DefaultUrgency = "routine"

// Details is the variant-specific payload of a DetectedAction. Timeframe,
// Reason and Specialty belong to schedule_followup; TestType, Urgency and
// Instructions belong to order_lab.
type Details struct {
	Timeframe string `json:"timeframe,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Specialty string `json:"specialty,omitempty"`

	TestType     string `json:"test_type,omitempty"`
	Urgency      string `json:"urgency,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// DetectedAction is one clinical action. It is never mutated after creation.
type DetectedAction struct {
	Type      Type         `json:"type"`
	Details   Details      `json:"details"`
	CreatedAt jsontime.ISO `json:"createdAt"`
}

// FollowupArgs are the arguments of the schedule_followup function.
type FollowupArgs struct {
	Timeframe string `json:"timeframe" jsonschema:"When the follow-up should be scheduled, e.g. '2 weeks' or '3 months'"`
	Reason    string `json:"reason" jsonschema:"The reason for the follow-up appointment"`
	Specialty string `json:"specialty,omitempty" jsonschema:"The medical specialty needed for the follow-up, if specified"`
}

// LabArgs are the arguments of the order_lab function.
type LabArgs struct {
	TestType     string `json:"test_type" jsonschema:"The type of lab test ordered, e.g. 'blood work', 'urine test' or 'x-ray'"`
	Urgency      string `json:"urgency,omitempty" jsonschema:"How urgently the lab needs to be completed"`
	Instructions string `json:"instructions,omitempty" jsonschema:"Any special instructions for the lab test"`
}

// ErrUnknownFunction is returned for function calls other than
// schedule_followup and order_lab.
var ErrUnknownFunction = errors.New("action: unknown function")

// MalformedArgumentsError reports function-call arguments that are not valid
// JSON. The call is abandoned.
type MalformedArgumentsError struct {
	Name string
	Err  error
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("action: malformed arguments for %s: %v", e.Name, e.Err)
}

func (e *MalformedArgumentsError) Unwrap() error {
	return e.Err
}

// FunctionCall is a model-issued request to invoke a named action.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

// FromFunctionCall builds the DetectedAction for a function call, stamped
// with at.
func FromFunctionCall(call FunctionCall, at time.Time) (DetectedAction, error) {
	a := DetectedAction{Type: Type(call.Name), CreatedAt: jsontime.ISO(at)}
	switch a.Type {
	case TypeScheduleFollowup:
		var args FollowupArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return DetectedAction{}, &MalformedArgumentsError{Name: call.Name, Err: err}
		}
		a.Details = Details{
			Timeframe: args.Timeframe,
			Reason:    args.Reason,
			Specialty: args.Specialty,
		}
	case TypeOrderLab:
		var args LabArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return DetectedAction{}, &MalformedArgumentsError{Name: call.Name, Err: err}
		}
		a.Details = Details{
			TestType:     args.TestType,
			Urgency:      args.Urgency,
			Instructions: args.Instructions,
		}
	default:
		return DetectedAction{}, fmt.Errorf("%w: %q", ErrUnknownFunction, call.Name)
	}
	return a.normalize(), nil
}

// Proposed is an action as listed in a classification response.
type Proposed struct {
	Type    Type    `json:"type"`
	Details Details `json:"details"`
}

// FromClassification builds DetectedActions for the recognized entries of a
// classification action list, all stamped with at. Entries of unknown type
// are returned separately so the caller can report them.
func FromClassification(list []Proposed, at time.Time) (actions []DetectedAction, unknown []Proposed) {
	for _, p := range list {
		switch p.Type {
		case TypeScheduleFollowup, TypeOrderLab:
			a := DetectedAction{Type: p.Type, Details: p.Details, CreatedAt: jsontime.ISO(at)}
			actions = append(actions, a.normalize())
		default:
			unknown = append(unknown, p)
		}
	}
	return actions, unknown
}

// Confirmation is the human-readable message returned to the model after
// the action was delivered.
func (a DetectedAction) Confirmation() string {
	switch a.Type {
	case TypeScheduleFollowup:
		return fmt.Sprintf("Follow-up appointment scheduled for %s from now", a.Details.Timeframe)
	case TypeOrderLab:
		return fmt.Sprintf("Lab order sent for %s", a.Details.TestType)
	}
	return string(a.Type)
}

// normalize drops fields foreign to the variant and applies defaults.
func (a DetectedAction) normalize() DetectedAction {
	d := a.Details
	switch a.Type {
	case TypeScheduleFollowup:
		a.Details = Details{Timeframe: d.Timeframe, Reason: d.Reason, Specialty: d.Specialty}
	case TypeOrderLab:
		a.Details = Details{TestType: d.TestType, Urgency: d.Urgency, Instructions: d.Instructions}
		if a.Details.Urgency == "" {
			a.Details.Urgency = DefaultUrgency
		}
	}
	return a
}
