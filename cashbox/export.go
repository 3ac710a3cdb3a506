package cashbox

import (
	"fmt"
	"io"

	"github.com/volan/membership-engine/core"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	paymentsSheet = "Payments"
	expenseSheet  = "Expenses"
)

// ExportXLSX writes s as a workbook with a summary sheet, the window's
// payments and its expenses.
func ExportXLSX(w io.Writer, s *Summary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{paymentsSheet, expenseSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeRows(f, summarySheet, summaryRows(s)); err != nil {
		return err
	}
	if err := writeRows(f, paymentsSheet, paymentRows(s)); err != nil {
		return err
	}
	if err := writeRows(f, expenseSheet, expenseRows(s)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := r
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func summaryRows(s *Summary) [][]interface{} {
	rows := [][]interface{}{
		{"from", s.Window.Start.String()},
		{"to", s.Window.End.String()},
		{},
		{"subscription_income", s.SubscriptionIncome.InexactFloat64()},
	}
	for _, m := range sortedKeys(s.ByMethod) {
		rows = append(rows, []interface{}{"method:" + string(m), s.ByMethod[m].InexactFloat64()})
	}
	for _, v := range sortedKeys(s.ByVertical) {
		rows = append(rows, []interface{}{"vertical:" + string(v), s.ByVertical[v].InexactFloat64()})
	}
	rows = append(rows, []interface{}{"cash_flow_income", s.CashFlowIncome.InexactFloat64()})
	for _, c := range sortedKeys(s.IncomeByCategory) {
		rows = append(rows, []interface{}{"category:" + string(c), s.IncomeByCategory[c].InexactFloat64()})
	}
	return append(rows,
		[]interface{}{"expenses", s.ExpenseTotal.InexactFloat64()},
		[]interface{}{},
		[]interface{}{"window_total", s.WindowTotal.InexactFloat64()},
		[]interface{}{"initial_balance", s.InitialBalance.InexactFloat64()},
		[]interface{}{"all_time_total", s.AllTimeTotal.InexactFloat64()},
		[]interface{}{"all_time_expenses", s.AllTimeExpenses.InexactFloat64()},
		[]interface{}{"cashbox_balance", s.CashboxBalance.InexactFloat64()},
	)
}

func paymentRows(s *Summary) [][]interface{} {
	timely := make(map[core.PaymentID]bool, len(s.Timely))
	for _, p := range s.Timely {
		timely[p.ID] = true
	}
	delayed := make(map[core.PaymentID]bool, len(s.Delayed))
	for _, p := range s.Delayed {
		delayed[p.ID] = true
	}

	rows := [][]interface{}{{
		"payment_id", "subscription_id", "customer_id", "vertical",
		"payment_date", "real_date", "amount", "method", "attribution",
	}}
	for _, p := range s.Payments {
		attribution := "timely"
		switch {
		case timely[p.ID] && delayed[p.ID]:
			attribution = "timely+delayed"
		case delayed[p.ID]:
			attribution = "delayed"
		}
		realDate := ""
		if p.RealDate != nil {
			realDate = p.RealDate.String()
		}
		rows = append(rows, []interface{}{
			string(p.ID), string(p.SubscriptionID), string(p.CustomerID), string(p.Vertical),
			p.PaymentDate.String(), realDate, p.Amount.InexactFloat64(), string(p.Method), attribution,
		})
	}
	return rows
}

func expenseRows(s *Summary) [][]interface{} {
	rows := [][]interface{}{{"id", "date", "category", "vertical", "name", "amount", "notes"}}
	for _, e := range s.Expenses {
		rows = append(rows, []interface{}{
			string(e.ID), e.Date.String(), string(e.Category), string(e.Vertical),
			e.Name, e.Amount.InexactFloat64(), e.Notes,
		})
	}
	return rows
}
