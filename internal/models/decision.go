package models

import "time"

// Action is what the agent controller chose to do at one step.
type Action string

const (
	ActionRunRules         Action = "run-rules"
	ActionInvokeEnrichment Action = "invoke-enrichment"
	ActionStop             Action = "stop"
)

// ControllerState is a node of the per-artifact agent state machine.
type ControllerState string

const (
	StateStart      ControllerState = "START"
	StateRulesDone  ControllerState = "RULES_DONE"
	StateEscalating ControllerState = "ESCALATING"
	StateStopped    ControllerState = "STOPPED"
)

// Decision is one entry of the controller's audit trail. Round starts at 0
// and strictly increases per artifact.
type Decision struct {
	ArtifactID    string          `json:"artifact_id"`
	Round         int             `json:"round"`
	Action        Action          `json:"action"`
	From          ControllerState `json:"from"`
	To            ControllerState `json:"to"`
	Justification string          `json:"justification"`
	At            time.Time       `json:"at"`
}
