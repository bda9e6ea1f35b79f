package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleKind tags the schedule variant.
type ScheduleKind string

const (
	ScheduleManual   ScheduleKind = "manual"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is a tagged variant: Manual never auto-fires, Interval fires every
// N minutes since the last fire, Cron fires at a wall-clock hour:minute,
// optionally restricted to one weekday.
type Schedule struct {
	Kind      ScheduleKind  `json:"kind"`
	Minutes   int           `json:"minutes,omitempty"`
	Hour      int           `json:"hour,omitempty"`
	Minute    int           `json:"minute,omitempty"`
	DayOfWeek *time.Weekday `json:"day_of_week,omitempty"`
}

// Manual returns a schedule that only fires on explicit trigger.
func Manual() Schedule {
	return Schedule{Kind: ScheduleManual}
}

// EveryMinutes returns an interval schedule firing every m minutes.
func EveryMinutes(m int) Schedule {
	return Schedule{Kind: ScheduleInterval, Minutes: m}
}

// DailyAt returns a cron schedule firing every day at hour:minute local time.
func DailyAt(hour, minute int) Schedule {
	return Schedule{Kind: ScheduleCron, Hour: hour, Minute: minute}
}

// WeeklyAt returns a cron schedule firing once a week at hour:minute local time.
func WeeklyAt(day time.Weekday, hour, minute int) Schedule {
	d := day
	return Schedule{Kind: ScheduleCron, Hour: hour, Minute: minute, DayOfWeek: &d}
}

// Validate checks the variant's invariants.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleManual:
		return nil
	case ScheduleInterval:
		if s.Minutes <= 0 {
			return fmt.Errorf("interval schedule requires minutes > 0, got %d", s.Minutes)
		}
		return nil
	case ScheduleCron:
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("cron schedule hour must be in [0,23], got %d", s.Hour)
		}
		if s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("cron schedule minute must be in [0,59], got %d", s.Minute)
		}
		if s.DayOfWeek != nil && (*s.DayOfWeek < time.Sunday || *s.DayOfWeek > time.Saturday) {
			return fmt.Errorf("cron schedule day_of_week must be in [0,6], got %d", *s.DayOfWeek)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Due reports whether an interval schedule should fire at now given the last
// fire time. Only meaningful for ScheduleInterval; other kinds return false.
func (s Schedule) Due(now, lastRun time.Time) bool {
	if s.Kind != ScheduleInterval || lastRun.IsZero() {
		return false
	}
	return now.Sub(lastRun) >= time.Duration(s.Minutes)*time.Minute
}

// MatchesSlot reports whether a cron schedule matches now's local wall clock.
func (s Schedule) MatchesSlot(now time.Time) bool {
	if s.Kind != ScheduleCron {
		return false
	}
	if now.Hour() != s.Hour || now.Minute() != s.Minute {
		return false
	}
	if s.DayOfWeek != nil && now.Weekday() != *s.DayOfWeek {
		return false
	}
	return true
}

// Slot identifies the matching minute, used to guard against double-fire
// within one tick window.
func (s Schedule) Slot(now time.Time) string {
	return now.Format("2006-01-02T15:04")
}

// NextFire computes the next auto-fire time, or nil for manual schedules.
func (s Schedule) NextFire(now, lastRun time.Time) *time.Time {
	switch s.Kind {
	case ScheduleInterval:
		base := lastRun
		if base.IsZero() {
			base = now
		}
		next := base.Add(time.Duration(s.Minutes) * time.Minute)
		return &next
	case ScheduleCron:
		next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
		for !next.After(now) || (s.DayOfWeek != nil && next.Weekday() != *s.DayOfWeek) {
			next = next.AddDate(0, 0, 1)
		}
		return &next
	default:
		return nil
	}
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleInterval:
		return fmt.Sprintf("every %dm", s.Minutes)
	case ScheduleCron:
		if s.DayOfWeek != nil {
			return fmt.Sprintf("%s %02d:%02d", s.DayOfWeek.String(), s.Hour, s.Minute)
		}
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	default:
		return "manual"
	}
}

// ScheduleFromValue decodes a schedule from an arbitrary JSON-shaped value
// (map[string]any from an API body, or an existing Schedule) and validates it.
func ScheduleFromValue(v any) (Schedule, error) {
	if s, ok := v.(Schedule); ok {
		return s, s.Validate()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("encoding schedule value: %w", err)
	}
	var s Schedule
	if err := json.Unmarshal(b, &s); err != nil {
		return Schedule{}, fmt.Errorf("decoding schedule value: %w", err)
	}
	return s, s.Validate()
}
