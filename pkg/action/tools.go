package action

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
)

// LabUrgencies are the accepted values of LabArgs.Urgency.
var LabUrgencies = []any{"routine", "urgent", "stat"}

// Tools returns the function tools announced to the realtime model.
func Tools() ([]openairealtime.Tool, error) {
	followup, err := jsonschema.For[FollowupArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("action: schedule_followup schema: %w", err)
	}
	lab, err := jsonschema.For[LabArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("action: order_lab schema: %w", err)
	}
	if p, ok := lab.Properties["urgency"]; ok {
		p.Enum = LabUrgencies
	}
	return []openairealtime.Tool{
		{
			Type:        openairealtime.ToolTypeFunction,
			Name:        string(TypeScheduleFollowup),
			Description: "Schedule a follow-up appointment for the patient. Use this when asked directly or when mentioned by the doctor.",
			Parameters:  followup,
		},
		{
			Type:        openairealtime.ToolTypeFunction,
			Name:        string(TypeOrderLab),
			Description: "Order a lab for the patient. Use this when asked directly or when mentioned by the doctor.",
			Parameters:  lab,
		},
	}, nil
}
