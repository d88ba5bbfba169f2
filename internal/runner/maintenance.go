package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/osbits/statuswatch/internal/config"
	"github.com/robfig/cron/v3"
)

const rangeLayout = "2006-01-02T15:04"

type maintenanceWindow struct {
	kind     config.MaintenanceKind
	start    time.Time
	end      time.Time
	schedule cron.Schedule
	duration time.Duration
}

func (m maintenanceWindow) contains(t time.Time) bool {
	switch m.kind {
	case config.MaintenanceKindRange:
		if m.start.IsZero() || m.end.IsZero() {
			return false
		}
		return !t.Before(m.start) && t.Before(m.end)
	case config.MaintenanceKindCron:
		if m.schedule == nil {
			return false
		}
		prev := m.schedule.Next(t.Add(-m.duration))
		if prev.After(t) {
			return false
		}
		return t.Sub(prev) <= m.duration
	default:
		return false
	}
}

func parseMaintenance(specs []config.MaintenanceSpec, loc *time.Location, duration time.Duration) ([]maintenanceWindow, error) {
	if duration <= 0 {
		duration = time.Hour
	}
	result := make([]maintenanceWindow, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case config.MaintenanceKindRange:
			start, end, err := parseRange(spec.Expr, loc)
			if err != nil {
				return nil, err
			}
			if !end.After(start) {
				return nil, fmt.Errorf("maintenance range %q ends before it starts", spec.Expr)
			}
			result = append(result, maintenanceWindow{kind: spec.Kind, start: start, end: end})
		case config.MaintenanceKindCron:
			schedule, err := cron.ParseStandard(spec.Expr)
			if err != nil {
				return nil, fmt.Errorf("parse cron %q: %w", spec.Expr, err)
			}
			result = append(result, maintenanceWindow{kind: spec.Kind, schedule: schedule, duration: duration})
		default:
			return nil, fmt.Errorf("unsupported maintenance kind %q", spec.Kind)
		}
	}
	return result, nil
}

// parseRange accepts "start/end" with RFC 3339 or minute precision
// timestamps, and the legacy "2006-01-02T15:04-2006-01-02T15:04" form.
func parseRange(expr string, loc *time.Location) (time.Time, time.Time, error) {
	var parts []string
	if strings.Contains(expr, "/") {
		parts = strings.SplitN(expr, "/", 2)
	} else {
		parts = splitRange(expr)
	}
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range %q", expr)
	}
	start, err := parseInstant(strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range start: %w", err)
	}
	end, err := parseInstant(strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range end: %w", err)
	}
	return start, end, nil
}

func parseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation(rangeLayout, value, loc)
}

func splitRange(expr string) []string {
	chunks := strings.SplitN(expr, "-", 6)
	if len(chunks) < 6 {
		return nil
	}
	return []string{strings.Join(chunks[:3], "-"), strings.Join(chunks[3:], "-")}
}
