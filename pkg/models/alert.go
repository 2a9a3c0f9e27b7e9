package models

import "time"

// AlertCondition decides how a target price is compared against quotes.
type AlertCondition string

const (
	ConditionAbove        AlertCondition = "ABOVE"
	ConditionBelow        AlertCondition = "BELOW"
	ConditionCrossesAbove AlertCondition = "CROSSES_ABOVE"
	ConditionCrossesBelow AlertCondition = "CROSSES_BELOW"
)

// AlertStatus is the alert lifecycle state. TRIGGERED and CANCELLED are
// terminal; no transition leaves them.
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertTriggered AlertStatus = "TRIGGERED"
	AlertCancelled AlertStatus = "CANCELLED"
)

// Alert is a user's standing price alert. The CRUD surface owns creation and
// cancellation; the streaming core only reads ACTIVE alerts and writes the
// ACTIVE -> TRIGGERED transition.
type Alert struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Symbol      string         `json:"symbol"`
	Condition   AlertCondition `json:"condition"`
	TargetPrice float64        `json:"targetPrice"`
	Status      AlertStatus    `json:"status"`
	TriggeredAt *time.Time     `json:"triggeredAt,omitempty"`
}

// AlertEvent is published when an alert fires. UserID routes the event but is
// not part of the client-facing payload.
type AlertEvent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"-"`
	Symbol       string         `json:"symbol"`
	Condition    AlertCondition `json:"condition"`
	TargetPrice  float64        `json:"targetPrice"`
	CurrentPrice float64        `json:"currentPrice"`
	TriggeredAt  time.Time      `json:"triggeredAt"`
}
