package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/debt"
	"github.com/warp/sleep-debt/sleep"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(12)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	exampleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// Debt at or above this many hours is shown as serious.
var seriousDebt = decimal.NewFromInt(5)

func label(s string) string {
	return labelStyle.Render(s)
}

func debtStyle(d decimal.Decimal) lipgloss.Style {
	switch {
	case d.IsZero():
		return okStyle
	case d.LessThan(seriousDebt):
		return warnStyle
	default:
		return badStyle
	}
}

func hours(d decimal.Decimal) string {
	return d.StringFixed(2) + " h"
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle })
}

func renderStatus(out io.Writer, st debt.Status) {
	fmt.Fprintf(out, "%s %s\n", titleStyle.Width(12).Render("Sleep debt"), debtStyle(st.CurrentDebt).Render(hours(st.CurrentDebt)))

	if st.DaysTracked == 0 {
		fmt.Fprintln(out, "No sleep recorded yet. Run `sleepdebt sync` first.")
		return
	}

	fmt.Fprintf(out, "%s %s (%d of %d days recorded)\n", label("Window"), st.Window, st.DaysTracked, st.WindowDays)
	fmt.Fprintf(out, "%s %s per night\n", label("Target"), hours(st.TargetSleepHours))
	fmt.Fprintf(out, "%s %s\n", label("Average"), hours(st.AverageSleepHours))

	lastSync := "never"
	if st.LastSync != nil {
		lastSync = st.LastSync.Local().Format(time.DateTime)
	}
	fmt.Fprintf(out, "%s %s\n", label("Last sync"), lastSync)

	if !st.HasTodayData {
		fmt.Fprintln(out, warnStyle.Render("Today's night is not recorded yet."))
	}
	if st.InsufficientWindow {
		fmt.Fprintln(out, warnStyle.Render("Fewer recorded days than the window; debt may be understated."))
	}
	if st.ExampleDays > 0 {
		fmt.Fprintln(out, exampleStyle.Render(fmt.Sprintf("%d of these days are example data.", st.ExampleDays)))
	}

	t := newTable("Date", "Sleep", "Daily", "Cumulative", "")
	for _, e := range st.Entries {
		note := ""
		if e.IsExample {
			note = "example"
		}
		t.Row(e.Date.String(), e.SleepHours.StringFixed(2), e.DailyDebt.StringFixed(2), e.CumulativeDebt.StringFixed(2), note)
	}
	fmt.Fprintln(out, t.String())
}

func renderSettings(out io.Writer, s sleep.Settings) {
	fmt.Fprintf(out, "%s %s\n", label("Target"), hours(s.TargetSleepHours))
	fmt.Fprintf(out, "%s %d days\n", label("Window"), s.StatsWindowDays)
	fmt.Fprintf(out, "%s %t\n", label("Examples"), s.UseDummyData)
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "%s %s\n", label("Updated"), s.UpdatedAt.Local().Format(time.DateTime))
	}
}

func renderRecords(out io.Writer, records []sleep.SleepRecord) {
	t := newTable("Date", "Sleep", "Source")
	for _, r := range records {
		t.Row(r.Date.String(), r.SleepHours.StringFixed(2), string(r.Source))
	}
	fmt.Fprintln(out, t.String())
}
