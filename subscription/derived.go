package subscription

import (
	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// Punctuality thresholds, in days since the last payment.
const (
	OnTimeDays  = 25
	WarningDays = 35
)

// Derived holds the fields recomputed from the ledger on every read.
// None of them is ever stored.
type Derived struct {
	TotalMonths     int
	TotalPayments   decimal.Decimal
	LastPaymentDate *core.TimePoint
	Punctuality     core.Punctuality
	TotalFreezeDays int
	CurrentFreeze   *core.FreezePeriod
}

// Derive computes the derived fields as of asOf.
func Derive(payments []core.Payment, freezes []core.FreezePeriod, policy core.FreezeDaysPolicy, asOf core.TimePoint) Derived {
	d := Derived{
		TotalMonths:     len(payments),
		TotalPayments:   core.SumPayments(payments),
		TotalFreezeDays: TotalFreezeDays(freezes, policy),
		CurrentFreeze:   CurrentFreeze(freezes, asOf),
	}
	if last := core.LatestPayment(payments); last != nil {
		date := last.EffectiveDate()
		d.LastPaymentDate = &date
	}
	d.Punctuality = Classify(d.LastPaymentDate, asOf)
	return d
}

// Classify maps days since the last payment to a punctuality status.
// No payment yet counts as on time.
func Classify(last *core.TimePoint, asOf core.TimePoint) core.Punctuality {
	if last == nil {
		return core.PunctualityOnTime
	}
	days := core.DaysBetween(*last, asOf)
	switch {
	case days < OnTimeDays:
		return core.PunctualityOnTime
	case days < WarningDays:
		return core.PunctualityWarning
	default:
		return core.PunctualityOverdue
	}
}

// changes lists derived fields that differ between two computations.
func (d Derived) changes(after Derived) []Change {
	var out []Change
	add := func(field, old, new string) {
		if old != new {
			out = append(out, Change{Field: field, Old: old, New: new})
		}
	}
	add("total_months", itoa(d.TotalMonths), itoa(after.TotalMonths))
	add("total_payments", d.TotalPayments.String(), after.TotalPayments.String())
	add("last_payment_date", datePtr(d.LastPaymentDate), datePtr(after.LastPaymentDate))
	add("payment_punctuality", string(d.Punctuality), string(after.Punctuality))
	add("total_freeze_days", itoa(d.TotalFreezeDays), itoa(after.TotalFreezeDays))
	return out
}
