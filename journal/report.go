package journal

import (
	"bytes"
	"io"
	"os"
	"text/template"
	"time"

	"github.com/rustyeddy/yieldloop/pnl"
	"github.com/shopspring/decimal"
)

// ComponentTotal is one attributed P&L line of a report.
type ComponentTotal struct {
	Name  string
	Value decimal.Decimal
}

// RunReport is the end-of-run summary written as an Org document.
type RunReport struct {
	RunID   string
	Created time.Time

	Mode       string
	BaseAsset  string
	Collateral string
	Debt       string
	Venues     []string

	Start   time.Time
	End     time.Time
	Periods int

	InitialValue decimal.Decimal
	FinalValue   decimal.Decimal
	NetPnL       decimal.Decimal
	Components   []ComponentTotal

	APR         float64
	APY         float64
	Sharpe      float64
	Volatility  float64
	MaxDrawdown float64

	ReconciliationDiff     decimal.Decimal
	ReconciliationFailures int

	RiskLevels map[string]int // periods per overall level
	Notes      []string
}

// NewRunReport fills the performance part of a report from a summary.
func NewRunReport(runID string, s pnl.Summary) *RunReport {
	r := &RunReport{
		RunID:                  runID,
		Start:                  s.Start,
		End:                    s.End,
		Periods:                s.Periods,
		InitialValue:           s.InitialValue,
		FinalValue:             s.FinalValue,
		NetPnL:                 s.NetPnL,
		APR:                    s.APR,
		APY:                    s.APY,
		Sharpe:                 s.Sharpe,
		Volatility:             s.Volatility,
		MaxDrawdown:            s.MaxDrawdown,
		ReconciliationDiff:     s.ReconciliationDiff,
		ReconciliationFailures: s.ReconciliationFailures,
	}
	for i, v := range s.Totals.Values() {
		r.Components = append(r.Components, ComponentTotal{Name: pnl.ComponentNames[i], Value: v})
	}
	return r
}

var reportFuncs = template.FuncMap{
	"pct":   func(x float64) float64 { return x * 100.0 },
	"usd":   func(d decimal.Decimal) string { return d.StringFixed(2) },
	"short": shortID,
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var reportTmpl = template.Must(template.New("run").Funcs(reportFuncs).Parse(RunOrgTemplate))

// Render writes the Org document to w.
func (r *RunReport) Render(w io.Writer) error {
	return reportTmpl.Execute(w, r)
}

// WriteOrg renders the report to path.
func (r *RunReport) WriteOrg(path string) error {
	buf := new(bytes.Buffer)
	if err := r.Render(buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

const RunOrgTemplate = `* RUN: {{.Mode}} {{.Collateral}}/{{.Debt}} ({{short .RunID}})
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:MODE:        {{.Mode}}
:BASE:        {{.BaseAsset}}
:COLLATERAL:  {{.Collateral}}
:DEBT:        {{.Debt}}
:START_DATE:  {{.Start.Format "2006-01-02 15:04"}}
:END_DATE:    {{.End.Format "2006-01-02 15:04"}}
:PERIODS:     {{.Periods}}
:INITIAL:     {{usd .InitialValue}}
:FINAL:       {{usd .FinalValue}}
:NET_PNL:     {{usd .NetPnL}}
:APR_PCT:     {{printf "%.2f" (pct .APR)}}
:APY_PCT:     {{printf "%.2f" (pct .APY)}}
:MAX_DD_PCT:  {{printf "%.2f" (pct .MaxDrawdown)}}
:RECON_DIFF:  {{.ReconciliationDiff.StringFixed 6}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Attribution
| Component | USD |
|-----------+-----|
{{- range .Components }}
| {{.Name}} | {{usd .Value}} |
{{- end }}
| net | {{usd .NetPnL}} |

** Performance
- APR:              *{{printf "%.2f" (pct .APR)}}%*
- APY:              *{{printf "%.2f" (pct .APY)}}%*
- Volatility:       *{{printf "%.2f" (pct .Volatility)}}%*
- Sharpe-like:      *{{printf "%.2f" .Sharpe}}*
- Max Drawdown:     *{{printf "%.2f" (pct .MaxDrawdown)}}%*

** Reconciliation
- Final diff:       {{.ReconciliationDiff.StringFixed 6}}
- Failed periods:   {{.ReconciliationFailures}}
{{- if .Venues }}

** Hedge Venues
{{- range .Venues }}
- {{.}}
{{- end }}
{{- end }}
{{- if .RiskLevels }}

** Risk
| Level | Periods |
|-------+---------|
{{- range $level, $n := .RiskLevels }}
| {{$level}} | {{$n}} |
{{- end }}
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
