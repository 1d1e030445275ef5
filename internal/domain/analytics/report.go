package analytics

import "time"

type ReportKind string

const (
	ReportDaily   ReportKind = "daily"
	ReportWeekly  ReportKind = "weekly"
	ReportMonthly ReportKind = "monthly"
)

// Report summarizes a closed period of traffic.
type Report struct {
	Kind        ReportKind   `json:"kind"`
	StartDate   string       `json:"startDate"`
	EndDate     string       `json:"endDate"`
	Summary     StatsSummary `json:"summary"`
	Days        []DailyStats `json:"days"`
	TopPages    []PageStats  `json:"topPages"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// Title is a human readable heading such as "Weekly traffic report 2025-05-26 to 2025-06-01".
func (r *Report) Title() string {
	name := "Traffic report"
	switch r.Kind {
	case ReportDaily:
		name = "Daily traffic report"
	case ReportWeekly:
		name = "Weekly traffic report"
	case ReportMonthly:
		name = "Monthly traffic report"
	}
	if r.StartDate == r.EndDate {
		return name + " " + r.StartDate
	}
	return name + " " + r.StartDate + " to " + r.EndDate
}
