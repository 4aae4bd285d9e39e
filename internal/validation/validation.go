package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/sigprobe/sigprobe/internal/blocking"
	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

var exportFormats = map[string]bool{
	"text": true,
	"json": true,
	"csv":  true,
}

func ValidateSignal(sig int) error {
	if sig < 1 || sig > config.MaxSignalNumber {
		return fmt.Errorf("signal must be between 1 and %d", config.MaxSignalNumber)
	}
	return sigctl.ValidateSignal(sig)
}

// ValidateSignalPair checks a suspend/resume pair.
func ValidateSignalPair(suspend, resume int) error {
	if err := ValidateSignal(suspend); err != nil {
		return fmt.Errorf("suspend signal: %w", err)
	}
	if err := ValidateSignal(resume); err != nil {
		return fmt.Errorf("resume signal: %w", err)
	}
	if suspend == resume {
		return fmt.Errorf("suspend and resume signals must differ")
	}
	return nil
}

func ValidateSleepPeriod(d time.Duration) error {
	if d < config.MinSleepPeriod {
		return fmt.Errorf("sleep period must be at least %v", config.MinSleepPeriod)
	}
	if d > config.MaxSleepPeriod {
		return fmt.Errorf("sleep period cannot exceed %v", config.MaxSleepPeriod)
	}
	return nil
}

func ValidateRendezvousTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("rendezvous timeout must be positive")
	}
	if d > config.MaxRendezvousTimeout {
		return fmt.Errorf("rendezvous timeout cannot exceed %v", config.MaxRendezvousTimeout)
	}
	return nil
}

// ParsePrimitives splits a comma-separated primitive list, validating every
// entry and dropping duplicates. An empty list selects every primitive.
func ParsePrimitives(list string) ([]string, error) {
	if len(list) > config.MaxPrimitiveListLen {
		return nil, fmt.Errorf("primitive list exceeds maximum length of %d characters", config.MaxPrimitiveListLen)
	}
	valid := make(map[string]bool)
	for _, name := range blocking.Names() {
		valid[name] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(strings.ToLower(list), ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		if !valid[p] {
			return nil, fmt.Errorf("invalid primitive: %s (valid: %s)", p, strings.Join(blocking.Names(), ", "))
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return blocking.Names(), nil
	}
	return out, nil
}

func ValidateExportFormat(format string) error {
	if format == "" {
		return nil
	}
	if len(format) > config.MaxExportFormatLength {
		return fmt.Errorf("export format exceeds maximum length of %d characters", config.MaxExportFormatLength)
	}
	if !exportFormats[strings.ToLower(format)] {
		return fmt.Errorf("export format must be 'text', 'json' or 'csv'")
	}
	return nil
}

func ValidateEventFilter(filter string) error {
	if filter == "" {
		return nil
	}
	if len(filter) > config.MaxEventFilterLength {
		return fmt.Errorf("event filter exceeds maximum length of %d characters", config.MaxEventFilterLength)
	}
	validFilters := make(map[string]bool)
	for _, c := range events.Categories() {
		validFilters[c] = true
	}
	for _, f := range strings.Split(strings.ToLower(filter), ",") {
		f = strings.TrimSpace(f)
		if f != "" && !validFilters[f] {
			return fmt.Errorf("invalid event filter: %s (valid: %s)", f, strings.Join(events.Categories(), ", "))
		}
	}
	return nil
}

func ValidateSampleRate(rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1")
	}
	return nil
}

func ValidateProgressRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("progress rate must be positive")
	}
	return nil
}

// SanitizeCSVField keeps spreadsheet tools from evaluating a field as a
// formula and drops control characters.
func SanitizeCSVField(field string) string {
	var b strings.Builder
	b.Grow(len(field))
	for _, r := range field {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	field = b.String()
	if field != "" && strings.ContainsRune("=+-@", rune(field[0])) {
		return "'" + field
	}
	return field
}
