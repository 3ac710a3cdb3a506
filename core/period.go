package core

// =============================================================================
// PERIOD - Closed date window [Start, End]
// =============================================================================

type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if t lies within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "period", Message: "start and end are required"}
	}
	if p.End.Before(p.Start) {
		return &ValidationError{Field: "period", Message: "end before start"}
	}
	return nil
}

// SingleMonth reports whether the whole window falls inside one calendar month.
func (p Period) SingleMonth() bool { return p.Start.SameMonth(p.End) }

// Month returns the calendar month containing Start.
func (p Period) Month() Period {
	return Period{Start: p.Start.StartOfMonth(), End: p.Start.EndOfMonth()}
}

// Overlaps reports whether the two closed windows share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

func (p Period) Days() int { return DaysBetween(p.Start, p.End) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// DATE FILTER PRESETS - Report windows relative to asOf
// =============================================================================

type DateFilter string

const (
	FilterAll    DateFilter = "all"
	FilterToday  DateFilter = "today"
	FilterWeek   DateFilter = "week"
	FilterMonth  DateFilter = "month"
	FilterYear   DateFilter = "year"
	FilterCustom DateFilter = "custom"
)

// WindowFor resolves a preset to a concrete window. Weeks run Monday to
// Sunday. from/to are only read for FilterCustom.
func WindowFor(filter DateFilter, asOf TimePoint, from, to *TimePoint) (Period, error) {
	var p Period
	switch filter {
	case FilterAll, "":
		p = Period{Start: Epoch, End: asOf}
	case FilterToday:
		p = Period{Start: asOf, End: asOf}
	case FilterWeek:
		start := asOf.StartOfWeek()
		p = Period{Start: start, End: start.AddDays(6)}
	case FilterMonth:
		p = Period{Start: asOf.StartOfMonth(), End: asOf.EndOfMonth()}
	case FilterYear:
		p = Period{Start: NewTimePoint(asOf.Year(), 1, 1), End: NewTimePoint(asOf.Year(), 12, 31)}
	case FilterCustom:
		if from == nil || to == nil {
			return Period{}, &ValidationError{Field: "filter", Message: "custom filter needs from and to"}
		}
		p = Period{Start: *from, End: *to}
	default:
		return Period{}, &ValidationError{Field: "filter", Message: "unknown date filter " + string(filter)}
	}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}
