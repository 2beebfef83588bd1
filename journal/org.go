package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatEventOrg renders an event as an Org-mode heading with its fields in
// a PROPERTIES drawer.
func FormatEventOrg(e EventRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s (%d)\n", strings.ToUpper(e.Kind), e.Venue, e.Seq)
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", e.ID)
	fmt.Fprintf(&b, ":RUN_ID: %s\n", e.RunID)
	fmt.Fprintf(&b, ":TIME: %s\n", e.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":TOKEN: %s\n", e.Token)
	fmt.Fprintf(&b, ":AMOUNT: %s\n", e.Amount.String())

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s: %s\n", strings.ToUpper(k), e.Attributes[k])
	}
	b.WriteString(":END:\n")
	return b.String()
}

// FormatEventsOrg renders events separated by blank lines.
func FormatEventsOrg(events []EventRow) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatEventOrg(e))
	}
	return b.String()
}

// FormatPeriodsOrg renders periods as an Org table.
func FormatPeriodsOrg(periods []PeriodRow) string {
	var b strings.Builder
	b.WriteString("| idx | time | price | supply | reward | borrow | funding | delta | costs | net | cum net | value | diff | hf | risk |\n")
	b.WriteString("|-----+------+-------+--------+--------+--------+---------+-------+-------+-----+---------+-------+------+----+------|\n")
	for _, p := range periods {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			p.Index,
			p.Time.UTC().Format("2006-01-02 15:04"),
			p.Price.StringFixed(2),
			p.SupplyYield.StringFixed(4),
			p.RewardYield.StringFixed(4),
			p.BorrowCost.StringFixed(4),
			p.Funding.StringFixed(4),
			p.DeltaPnL.StringFixed(4),
			p.TransactionCosts.StringFixed(4),
			p.Net.StringFixed(4),
			p.CumulativeNet.StringFixed(4),
			p.TotalValue.StringFixed(2),
			p.Diff.StringFixed(6),
			p.HealthFactor.StringFixed(4),
			p.RiskLevel,
		)
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
