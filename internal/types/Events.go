/*

This file contains the audit event record emitted on every state transition.
Events carry before/after values where the entity changed and form the
externally observable audit log.

*/

package types

import (
	"time"
)

// EventType labels the state transition that produced an event.
type EventType string

const (
	EventExposureOpened      EventType = "EXPOSURE_OPENED"
	EventExposureClosed      EventType = "EXPOSURE_CLOSED"
	EventExposureAdjusted    EventType = "EXPOSURE_ADJUSTED"
	EventContractCreated     EventType = "CONTRACT_CREATED"
	EventContractSettled     EventType = "CONTRACT_SETTLED"
	EventContractTerminated  EventType = "CONTRACT_TERMINATED"
	EventLeverageAdjusted    EventType = "LEVERAGE_ADJUSTED"
	EventYieldHarvested      EventType = "YIELD_HARVESTED"
	EventEmergencyExit       EventType = "EMERGENCY_EXIT"
	EventCircuitBreakerSet   EventType = "CIRCUIT_BREAKER_SET"
	EventRiskParamsUpdated   EventType = "RISK_PARAMS_UPDATED"
	EventCapitalAllocated    EventType = "CAPITAL_ALLOCATED"
	EventCapitalWithdrawn    EventType = "CAPITAL_WITHDRAWN"
	EventRebalanceExecuted   EventType = "REBALANCE_EXECUTED"
	EventCounterpartyAdded   EventType = "COUNTERPARTY_ADDED"
	EventCounterpartyRemoved EventType = "COUNTERPARTY_REMOVED"
)

// Event is one entry of the audit log. Before/After hold stringified values
// of whatever entity changed (amounts, leverage, parameter sets).
type Event struct {
	Type      EventType `json:"type"`
	Strategy  string    `json:"strategy,omitempty"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, strategy, before, after, detail string) Event {
	return Event{
		Type:      t,
		Strategy:  strategy,
		Before:    before,
		After:     after,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}
