package cloud

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ScheduleType is the access-code schedule category supported by the locks.
type ScheduleType string

// Schedule types accepted by the cloud API.
const (
	ScheduleAllDay           ScheduleType = "all_day"
	ScheduleDateRange        ScheduleType = "date_range"
	ScheduleWeekly           ScheduleType = "weekly"
	ScheduleOneTimeUnlimited ScheduleType = "one_time_unlimited"
	ScheduleOneTime24Hour    ScheduleType = "one_time_24_hour"
)

// Valid reports whether t is a recognised schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleAllDay, ScheduleDateRange, ScheduleWeekly,
		ScheduleOneTimeUnlimited, ScheduleOneTime24Hour:
		return true
	}
	return false
}

// DayOfWeek is a bitmask of weekdays for weekly schedules.
// Multiple days are combined with bitwise OR, matching the wire encoding.
type DayOfWeek uint8

// Weekday flags.
const (
	Sunday DayOfWeek = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// dayNames maps config/API day names to their flags.
var dayNames = map[string]DayOfWeek{
	"sunday":    Sunday,
	"monday":    Monday,
	"tuesday":   Tuesday,
	"wednesday": Wednesday,
	"thursday":  Thursday,
	"friday":    Friday,
	"saturday":  Saturday,
}

// ParseDayOfWeek converts a lowercase day name to its flag.
func ParseDayOfWeek(name string) (DayOfWeek, error) {
	if d, ok := dayNames[name]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown day of week: %q", name)
}

// AccessCodeSchedule describes when an access code is active.
//
// Field requirements depend on Type: DateRange requires both dates,
// Weekly requires at least one day. Validate() enforces these before
// any request is sent.
type AccessCodeSchedule struct {
	Type      ScheduleType
	StartTime string // "HH:MM", optional
	EndTime   string // "HH:MM", optional
	StartDate *time.Time
	EndDate   *time.Time
	Days      DayOfWeek
}

// ErrInvalidSchedule is returned when schedule parameters do not satisfy
// the requirements of the schedule type.
var ErrInvalidSchedule = errors.New("cloud: invalid schedule parameters")

// Validate checks schedule-type-specific requirements.
func (s AccessCodeSchedule) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSchedule, s.Type)
	}
	if s.Type == ScheduleDateRange && (s.StartDate == nil || s.EndDate == nil) {
		return fmt.Errorf("%w: date_range requires start_date and end_date", ErrInvalidSchedule)
	}
	if s.Type == ScheduleWeekly && s.Days == 0 {
		return fmt.Errorf("%w: weekly requires at least one day", ErrInvalidSchedule)
	}
	return nil
}

// codePattern matches the PINs the locks accept: 4 to 8 digits.
var codePattern = regexp.MustCompile(`^\d{4,8}$`)

// ErrInvalidCode is returned when an access code has the wrong format.
var ErrInvalidCode = errors.New("cloud: access code must be 4-8 digits")

// ValidateCode checks an access code against the lock's PIN format.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}
