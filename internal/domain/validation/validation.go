package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	// Test codes follow LOINC-style shorthand: lowercase alphanumerics plus
	// underscores, e.g. "glucose", "ph_arterial", "hba1c"
	testCodeRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,63}$`)

	// Role names for escalation paths - letters plus separators
	roleRegex = regexp.MustCompile(`^[\p{L}][\p{L}\s\-_]{1,63}$`)

	// Unit strings - permissive, covers common clinical unit notation
	// (mg/dL, mEq/L, mmol/L, %, bpm, x10^9/L)
	unitRegex = regexp.MustCompile(`^[\p{L}\p{N}%μ/\.\^\-\s]{1,32}$`)
)

// NormalizeTestCode lowercases and trims a test code for canonical comparison
func NormalizeTestCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidateTestCode validates test code format
func ValidateTestCode(code string) error {
	if code == "" {
		return fmt.Errorf("test code cannot be empty")
	}

	if !testCodeRegex.MatchString(NormalizeTestCode(code)) {
		return fmt.Errorf("invalid test code format: %q", code)
	}

	return nil
}

// ValidateTestName validates human-readable test name
func ValidateTestName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("test name cannot be empty")
	}

	if len(name) > 200 {
		return fmt.Errorf("test name too long (max 200 characters)")
	}

	return nil
}

// ValidateUnit validates measurement unit notation
func ValidateUnit(unit string) error {
	if unit == "" {
		return fmt.Errorf("unit cannot be empty")
	}

	if !unitRegex.MatchString(unit) {
		return fmt.Errorf("invalid unit format: %q", unit)
	}

	return nil
}

// ValidateMeasurementValue rejects non-numeric sentinel values
func ValidateMeasurementValue(value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("measurement value cannot be NaN")
	}

	if math.IsInf(value, 0) {
		return fmt.Errorf("measurement value cannot be infinite")
	}

	return nil
}

// ValidateRoleName validates an escalation path role entry
func ValidateRoleName(role string) error {
	if role == "" {
		return fmt.Errorf("role name cannot be empty")
	}

	if !roleRegex.MatchString(role) {
		return fmt.Errorf("invalid role name format: %q", role)
	}

	return nil
}

// ValidateActor validates the identity behind acknowledge/resolve actions
func ValidateActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("actor cannot be empty")
	}

	if len(actor) > 128 {
		return fmt.Errorf("actor too long (max 128 characters)")
	}

	return nil
}

// ValidateRuleName validates alert rule display name
func ValidateRuleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}

	if len(name) > 200 {
		return fmt.Errorf("rule name too long (max 200 characters)")
	}

	return nil
}

// ValidateEscalationMinutes validates the escalation countdown duration
func ValidateEscalationMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("time to escalation must be positive")
	}

	// A week is already far beyond any clinical escalation policy
	if minutes > 7*24*60 {
		return fmt.Errorf("time to escalation too long (max 7 days)")
	}

	return nil
}
