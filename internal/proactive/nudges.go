// Package proactive turns rule actions into nudges and keeps them.
package proactive

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/lifeops/internal/rules"
)

// NudgeType is the delivery channel of a nudge
type NudgeType string

const (
	NudgeTypePush  NudgeType = "push"
	NudgeTypeEmail NudgeType = "email"
	NudgeTypeSMS   NudgeType = "sms"
	NudgeTypeInApp NudgeType = "in_app"
	NudgeTypeCard  NudgeType = "card"
)

// NudgeUrgency indicates how urgently the nudge should be delivered
type NudgeUrgency string

const (
	NudgeUrgencyImmediate NudgeUrgency = "immediate" // Send now, even in quiet hours
	NudgeUrgencyHigh      NudgeUrgency = "high"
	NudgeUrgencyNormal    NudgeUrgency = "normal"
	NudgeUrgencyQuiet     NudgeUrgency = "quiet" // Only show when user is active
)

// NudgeStatus tracks the state of a nudge
type NudgeStatus string

const (
	NudgeStatusPending   NudgeStatus = "pending"
	NudgeStatusQueued    NudgeStatus = "queued" // held for quiet hours
	NudgeStatusDismissed NudgeStatus = "dismissed"
)

// Nudge is a notification raised by a rule.
type Nudge struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"ruleId"`
	SourceID    string                 `json:"sourceId"`
	Type        NudgeType              `json:"type"`
	Urgency     NudgeUrgency           `json:"urgency"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Status      NudgeStatus            `json:"status"`
	CreatedAt   time.Time              `json:"createdAt"`
	DismissedAt *time.Time             `json:"dismissedAt,omitempty"`
}

// NudgeConfig configures nudge generation
type NudgeConfig struct {
	QuietHoursStart int // Hour to start quiet mode (default: 22)
	QuietHoursEnd   int // Hour to end quiet mode (default: 7)
	Location        *time.Location
}

// DefaultNudgeConfig returns the default quiet hours
func DefaultNudgeConfig() NudgeConfig {
	return NudgeConfig{
		QuietHoursStart: 22,
		QuietHoursEnd:   7,
		Location:        time.Local,
	}
}

// NudgeGenerator creates nudges from rule actions
type NudgeGenerator struct {
	config NudgeConfig
	now    func() time.Time
}

// NewNudgeGenerator creates a generator. now may be nil.
func NewNudgeGenerator(config NudgeConfig, now func() time.Time) *NudgeGenerator {
	if now == nil {
		now = time.Now
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &NudgeGenerator{config: config, now: now}
}

// FromAction builds a nudge for a "nudge" action. Other actions yield nil.
func (g *NudgeGenerator) FromAction(a rules.Action) *Nudge {
	if a.Action != "nudge" {
		return nil
	}

	priority := paramInt(a.Params, "priority", 3)
	nudgeType, urgency := determineTypeAndUrgency(priority)
	if ch, ok := a.Params["channel"].(string); ok && ch != "" {
		nudgeType = NudgeType(ch)
	}

	title, _ := a.Params["title"].(string)
	if title == "" {
		title = a.RuleID
	}
	body, _ := a.Params["body"].(string)
	if body == "" {
		body = describe(a)
	}

	n := &Nudge{
		ID:       uuid.New().String(),
		RuleID:   a.RuleID,
		SourceID: a.EventID,
		Type:     nudgeType,
		Urgency:  urgency,
		Title:    title,
		Body:     body,
		Data: map[string]interface{}{
			"eventType": a.EventType,
			"priority":  priority,
		},
		Status:    NudgeStatusPending,
		CreatedAt: g.now().UTC(),
	}
	for k, v := range a.Payload {
		n.Data[k] = v
	}

	if g.IsQuietHours() && n.Urgency != NudgeUrgencyImmediate {
		n.Status = NudgeStatusQueued
	}
	return n
}

// determineTypeAndUrgency maps rule priority to nudge delivery
func determineTypeAndUrgency(priority int) (NudgeType, NudgeUrgency) {
	switch {
	case priority <= 1:
		return NudgeTypePush, NudgeUrgencyImmediate
	case priority == 2:
		return NudgeTypePush, NudgeUrgencyHigh
	case priority <= 4:
		return NudgeTypeInApp, NudgeUrgencyNormal
	}
	return NudgeTypeCard, NudgeUrgencyQuiet
}

// IsQuietHours checks if the current time is in quiet hours
func (g *NudgeGenerator) IsQuietHours() bool {
	hour := g.now().In(g.config.Location).Hour()
	start, end := g.config.QuietHoursStart, g.config.QuietHoursEnd

	if start > end {
		// spans midnight, e.g. 22:00 to 07:00
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

func describe(a rules.Action) string {
	switch {
	case a.Payload["title"] != nil && a.Payload["amount"] != nil:
		return fmt.Sprintf("%v: %v due %v", a.Payload["title"], a.Payload["amount"], a.Payload["dueDate"])
	case a.Payload["medication"] != nil:
		return fmt.Sprintf("%v taken %v minutes late", a.Payload["medication"], a.Payload["minutesOverdue"])
	}
	return fmt.Sprintf("Rule %s matched %s", a.RuleID, a.EventType)
}

func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
