package templates

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
)

var reportTemplate = template.Must(template.New("report").Parse(`
<p style="margin: 0 0 16px 0;">{{.StartDate}}{{if ne .StartDate .EndDate}} to {{.EndDate}}{{end}}</p>
<table role="presentation" cellpadding="6" cellspacing="0" style="border-collapse: collapse; width: 100%; margin-bottom: 16px;">
  <tr><td>Visits</td><td align="right"><strong>{{.Summary.Visits}}</strong></td></tr>
  <tr><td>Unique visitors (sum of daily)</td><td align="right"><strong>{{.Summary.UniqueIPs}}</strong></td></tr>
</table>
{{if gt (len .Days) 1}}
<h2 style="font-size: 16px;">By day</h2>
<table role="presentation" cellpadding="4" cellspacing="0" style="border-collapse: collapse; width: 100%; margin-bottom: 16px;">
  <tr><th align="left">Date</th><th align="right">Visits</th><th align="right">Unique</th></tr>
  {{range .Days}}<tr><td>{{.Date}}</td><td align="right">{{.TotalVisits}}</td><td align="right">{{.UniqueIPs}}</td></tr>
  {{end}}
</table>
{{end}}
{{if .TopPages}}
<h2 style="font-size: 16px;">Top pages</h2>
<table role="presentation" cellpadding="4" cellspacing="0" style="border-collapse: collapse; width: 100%;">
  <tr><th align="left">Page</th><th align="right">Visits</th><th align="right">Unique</th></tr>
  {{range .TopPages}}<tr><td>{{.PageURL}}</td><td align="right">{{.VisitCount}}</td><td align="right">{{.UniqueIPCount}}</td></tr>
  {{end}}
</table>
{{else}}
<p>No page views recorded.</p>
{{end}}`))

// RenderReport returns the complete HTML document for a report.
func RenderReport(report *analytics.Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	return GetEmailLayout(EmailLayoutProps{
		Preheader: fmt.Sprintf("%d visits, %d unique visitors", report.Summary.Visits, report.Summary.UniqueIPs),
		Title:     report.Title(),
		Content:   buf.String(),
	})
}
