// Package migrate reconciles a declared table with the live one. It plans
// the DDL a policy allows, asks for confirmation before any of it runs, then
// executes the plan strictly in order.
package migrate

import (
	"fmt"
	"strings"
)

// Policy governs how schema drift is resolved.
type Policy string

const (
	// PolicySafe never changes a live table.
	PolicySafe Policy = "safe"
	// PolicyAlter alters in place when the key is unchanged.
	PolicyAlter Policy = "alter"
	// PolicyDrop drops and recreates the table.
	PolicyDrop Policy = "drop"
)

// ParsePolicy parses a policy name. The empty string is PolicySafe.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySafe:
		return PolicySafe, nil
	case PolicyAlter:
		return PolicyAlter, nil
	case PolicyDrop:
		return PolicyDrop, nil
	default:
		return "", fmt.Errorf("unknown migration policy: %s", s)
	}
}

// Config holds reconciliation settings
type Config struct {
	Policy                         Policy `koanf:"migration"`
	Production                     bool   `koanf:"production"`
	DisableInteractiveConfirmation bool   `koanf:"disable_interactive_confirmation"`
}

// EffectivePolicy returns the policy in force. Production forces safe.
func (c Config) EffectivePolicy() Policy {
	if c.Production || c.Policy == "" {
		return PolicySafe
	}
	return c.Policy
}
