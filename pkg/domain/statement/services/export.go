package statement_services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
	statement_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/statement/entities"
	shared_vo "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/value-objects"
)

// ExportFormat selects the statement rendering.
type ExportFormat string

const (
	// FormatPDFHTML is a self-contained HTML document for external PDF
	// rendering.
	FormatPDFHTML ExportFormat = "pdf-html"
	FormatCSV     ExportFormat = "csv"
	FormatJSON    ExportFormat = "json"
)

// Export is a rendered statement ready to hand to a transport.
type Export struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportStatement renders the statement in the requested format.
func ExportStatement(statement *statement_entities.Statement, format ExportFormat) (*Export, error) {
	base := fmt.Sprintf("statement-%s-%s", statement.ID, statement.PeriodStart.Format("2006-01"))

	switch format {
	case FormatPDFHTML:
		content, err := renderHTML(statement)
		if err != nil {
			return nil, err
		}

		return &Export{Content: content, ContentType: "text/html; charset=utf-8", Filename: base + ".html"}, nil
	case FormatCSV:
		content, err := renderCSV(statement)
		if err != nil {
			return nil, err
		}

		return &Export{Content: content, ContentType: "text/csv; charset=utf-8", Filename: base + ".csv"}, nil
	case FormatJSON:
		content, err := json.MarshalIndent(statement, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal statement: %w", err)
		}

		return &Export{Content: content, ContentType: "application/json", Filename: base + ".json"}, nil
	default:
		return nil, common.Ef(common.KindValidation, "unknown_format", "unknown export format %q", format)
	}
}

var statementTemplate = template.Must(template.New("statement").Funcs(template.FuncMap{
	"major": func(m shared_vo.Money) string { return m.MajorString() },
	"maybe": func(m *shared_vo.Money) string {
		if m == nil {
			return ""
		}

		return m.MajorString()
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Statement {{.ID}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin-top: 1em; }
th, td { border: 1px solid #ccc; padding: 6px 10px; font-size: 0.85em; }
th { background: #f4f4f4; text-align: left; }
td.amount { text-align: right; font-variant-numeric: tabular-nums; }
tfoot td { font-weight: bold; }
.meta { color: #666; font-size: 0.85em; }
</style>
</head>
<body>
<h1>Account statement</h1>
<p class="meta">
Statement {{.ID}}<br>
Account {{.AccountID}} · {{.Currency}}<br>
Period {{.PeriodStart.Format "2006-01-02"}} to {{.PeriodEnd.Format "2006-01-02"}}
</p>
<table>
<thead>
<tr><th>Date</th><th>Type</th><th>Description</th><th>Debit</th><th>Credit</th><th>Balance</th></tr>
</thead>
<tbody>
<tr><td colspan="5">Opening balance</td><td class="amount">{{major .OpeningBalance}}</td></tr>
{{range .LineItems}}
<tr>
<td>{{.Date.Format "2006-01-02"}}</td>
<td>{{.Type}}</td>
<td>{{.Description}}</td>
<td class="amount">{{maybe .Debit}}</td>
<td class="amount">{{maybe .Credit}}</td>
<td class="amount">{{major .Balance}}</td>
</tr>
{{end}}
</tbody>
<tfoot>
<tr><td colspan="3">Totals</td><td class="amount">{{major .TotalDebits}}</td><td class="amount">{{major .TotalCredits}}</td><td class="amount">{{major .ClosingBalance}}</td></tr>
</tfoot>
</table>
<h1>Summary by category</h1>
<table>
<thead><tr><th>Category</th><th>Debits</th><th>Credits</th><th>Net</th></tr></thead>
<tbody>
{{range .CategorySummaries}}
<tr><td>{{.Type}}</td><td class="amount">{{major .TotalDebits}}</td><td class="amount">{{major .TotalCredits}}</td><td class="amount">{{major .Net}}</td></tr>
{{end}}
</tbody>
</table>
</body>
</html>
`))

func renderHTML(statement *statement_entities.Statement) ([]byte, error) {
	var buf bytes.Buffer

	if err := statementTemplate.Execute(&buf, statement); err != nil {
		return nil, fmt.Errorf("render statement html: %w", err)
	}

	return buf.Bytes(), nil
}

// renderCSV writes metadata rows, a blank separator, the item header and
// rows, another separator, then the category summaries. Amounts are major
// units with two fraction digits.
func renderCSV(statement *statement_entities.Statement) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	meta := [][]string{
		{"statement_id", statement.ID.String()},
		{"account_id", statement.AccountID.String()},
		{"currency", string(statement.Currency)},
		{"period_start", statement.PeriodStart.Format("2006-01-02")},
		{"period_end", statement.PeriodEnd.Format("2006-01-02")},
		{"opening_balance", statement.OpeningBalance.MajorString()},
		{"closing_balance", statement.ClosingBalance.MajorString()},
		{"total_debits", statement.TotalDebits.MajorString()},
		{"total_credits", statement.TotalCredits.MajorString()},
	}

	for _, row := range meta {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	if err := w.Write([]string{}); err != nil {
		return nil, err
	}

	if err := w.Write([]string{"date", "type", "description", "reference", "debit", "credit", "balance"}); err != nil {
		return nil, err
	}

	maybe := func(m *shared_vo.Money) string {
		if m == nil {
			return ""
		}

		return m.MajorString()
	}

	for _, item := range statement.LineItems {
		row := []string{
			item.Date.Format("2006-01-02"),
			string(item.Type),
			item.Description,
			item.Reference,
			maybe(item.Debit),
			maybe(item.Credit),
			item.Balance.MajorString(),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	if err := w.Write([]string{}); err != nil {
		return nil, err
	}

	if err := w.Write([]string{"category", "total_debits", "total_credits", "net"}); err != nil {
		return nil, err
	}

	for _, summary := range statement.CategorySummaries {
		row := []string{
			string(summary.Type),
			summary.TotalDebits.MajorString(),
			summary.TotalCredits.MajorString(),
			summary.Net.MajorString(),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render statement csv: %w", err)
	}

	return buf.Bytes(), nil
}
