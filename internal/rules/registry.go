package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantumlife/lifeops/internal/core"
)

// Defaults returns the built-in rules.
func Defaults() []RuleDefinition {
	return []RuleDefinition{
		{
			ID:          "bill-due-soon",
			Name:        "Bill due soon",
			Description: "Push a nudge when a bill with a balance is due within three days",
			Enabled:     true,
			EventTypes:  []string{core.EventBillDue},
			Logic: map[string]interface{}{
				"and": []interface{}{
					map[string]interface{}{">": []interface{}{
						map[string]interface{}{"var": "bill.amount"}, 0.0,
					}},
					map[string]interface{}{"<": []interface{}{
						map[string]interface{}{"dueInDays": []interface{}{
							map[string]interface{}{"var": "bill.dueDate"},
						}},
						3.0,
					}},
				},
			},
			Action: "nudge",
			Params: map[string]interface{}{
				"channel":  "push",
				"priority": 1.0,
				"title":    "Bill due soon",
			},
		},
		{
			ID:          "dose-overdue",
			Name:        "Dose overdue",
			Description: "Remind in-app when a dose was taken more than 30 minutes late",
			Enabled:     true,
			EventTypes:  []string{core.EventDoseTaken},
			Logic: map[string]interface{}{
				">": []interface{}{
					map[string]interface{}{"var": "dose.minutesOverdue"}, 30.0,
				},
			},
			Action: "nudge",
			Params: map[string]interface{}{
				"channel":  "in_app",
				"priority": 3.0,
				"title":    "Dose taken late",
			},
		},
	}
}

type ruleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// LoadFile reads rule definitions from a YAML file of the form
//
//	rules:
//	  - id: big-refill
//	    name: Big refill
//	    enabled: true
//	    event_types: [refill.requested]
//	    logic: {"==": [{"var": "refill.pharmacy"}, "mail"]}
//	    action: nudge
//	    params: {channel: email}
//
// Every definition is compiled so a bad file fails at load time.
func LoadFile(path string) ([]RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML rule definitions.
func Parse(data []byte) ([]RuleDefinition, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, def := range f.Rules {
		if def.ID == "" {
			return nil, fmt.Errorf("rule %d id: %w", i, core.ErrMissingRequired)
		}
		if _, err := Compile(def.Logic); err != nil {
			return nil, fmt.Errorf("rule %s: %w", def.ID, err)
		}
	}
	return f.Rules, nil
}
