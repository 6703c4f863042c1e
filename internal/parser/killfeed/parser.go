package killfeed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"deadfeed/internal/events"

	"github.com/pterm/pterm"
)

// Kill-log records are comma-delimited with a fixed leading field set:
//
//	timestamp,killer,victim,weapon,distance,flags
//
// Servers occasionally append extra columns; everything past the
// flags field is ignored. Timestamps appear either as ISO-8601 or as
// "2006-01-02 15:04:05" (UTC).
const minFields = 5

const relocationFlag = "suicide_by_relocation"

// Parser converts raw kill-log lines into KillEvents, applying
// deterministic suicide normalization.
type Parser struct {
	logger *pterm.Logger
}

func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{logger: logger}
}

// CanParse checks whether the line has the minimum field count and a
// parseable timestamp. Header and blank lines fail this cheaply.
func (p *Parser) CanParse(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	parts := strings.Split(line, ",")
	if len(parts) < minFields {
		return false
	}
	_, err := parseTimestamp(parts[0])
	return err == nil
}

// Parse converts one line into a KillEvent. The serverKey is stamped
// by the caller; Parse is pure over the line content.
func (p *Parser) Parse(serverKey, line string) (events.KillEvent, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ",")
	if len(parts) < minFields {
		return events.KillEvent{}, fmt.Errorf("killfeed: expected at least %d fields, got %d", minFields, len(parts))
	}

	timestamp, err := parseTimestamp(parts[0])
	if err != nil {
		return events.KillEvent{}, fmt.Errorf("killfeed: bad timestamp %q: %w", parts[0], err)
	}

	killer := strings.TrimSpace(parts[1])
	victim := strings.TrimSpace(parts[2])
	weapon := strings.TrimSpace(parts[3])
	distance := parseDistance(parts[4])

	flags := ""
	if len(parts) > minFields {
		flags = strings.TrimSpace(parts[5])
	}

	event := events.KillEvent{
		ServerKey:      serverKey,
		Timestamp:      timestamp,
		Killer:         killer,
		Victim:         victim,
		Weapon:         weapon,
		DistanceMeters: distance,
	}
	normalizeSuicide(&event, flags)
	return event, nil
}

// normalizeSuicide marks self-inflicted deaths. The relocation flag
// forces the "Menu Suicide" label regardless of name equality; other
// self-inflicted deaths keep their raw cause as the weapon.
func normalizeSuicide(event *events.KillEvent, flags string) {
	relocation := strings.EqualFold(flags, relocationFlag) ||
		strings.Contains(strings.ToLower(event.Weapon), "relocation")

	if relocation {
		event.IsSuicide = true
		event.SuicideLabel = events.MenuSuicideLabel
		return
	}
	if event.Killer == event.Victim && event.Killer != "" {
		event.IsSuicide = true
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parseDistance(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" || strings.EqualFold(raw, "N/A") {
		return 0
	}
	distance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return distance
}
