package core

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar day, the only granularity the club books in
// =============================================================================

type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Epoch is the fixed origin every all-time replay starts from.
var Epoch = NewTimePoint(2000, time.January, 1)

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its calendar day.
func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// Today reads the wall clock. Only the outer edges (HTTP, scheduler) call it;
// engines receive asOf explicitly.
func Today() TimePoint { return FromTime(time.Now()) }

func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return FromTime(t), nil
}

// MustParseDate is for tests and fixtures.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(o TimePoint) bool        { return tp.Time.Before(o.Time) }
func (tp TimePoint) After(o TimePoint) bool         { return tp.Time.After(o.Time) }
func (tp TimePoint) Equal(o TimePoint) bool         { return tp.Time.Equal(o.Time) }
func (tp TimePoint) BeforeOrEqual(o TimePoint) bool { return !tp.After(o) }
func (tp TimePoint) AfterOrEqual(o TimePoint) bool  { return !tp.Before(o) }
func (tp TimePoint) IsZero() bool                   { return tp.Time.IsZero() }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// AddMonths moves by calendar months, clamping to the last day of the target
// month (Jan 31 + 1 month = Feb 28/29).
func (tp TimePoint) AddMonths(n int) TimePoint {
	first := time.Date(tp.Time.Year(), tp.Time.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := tp.Time.Day()
	if day > last {
		day = last
	}
	return NewTimePoint(first.Year(), first.Month(), day)
}

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }

func (tp TimePoint) SameMonth(o TimePoint) bool {
	return tp.Year() == o.Year() && tp.Month() == o.Month()
}

func (tp TimePoint) StartOfMonth() TimePoint { return NewTimePoint(tp.Year(), tp.Month(), 1) }
func (tp TimePoint) EndOfMonth() TimePoint   { return tp.StartOfMonth().AddMonths(1).AddDays(-1) }

// StartOfWeek returns the Monday of tp's week.
func (tp TimePoint) StartOfWeek() TimePoint {
	offset := (int(tp.Weekday()) + 6) % 7
	return tp.AddDays(-offset)
}

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(dateLayout)
}

// Ptr returns a pointer to a copy of tp, handy for nullable dates.
func (tp TimePoint) Ptr() *TimePoint { return &tp }

func DaysBetween(from, to TimePoint) int { return int(to.Time.Sub(from.Time).Hours() / 24) }

func MaxTime(a, b TimePoint) TimePoint {
	if a.After(b) {
		return a
	}
	return b
}

func (tp TimePoint) MarshalJSON() ([]byte, error) {
	if tp.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + tp.String() + `"`), nil
}

func (tp *TimePoint) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*tp = TimePoint{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return Invalid("date", "expected quoted YYYY-MM-DD, got %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}
