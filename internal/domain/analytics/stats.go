package analytics

// DailyStats is the per-day view returned by today and range queries.
type DailyStats struct {
	Date               string  `json:"date"`
	TotalVisits        int64   `json:"totalVisits"`
	UniqueIPs          int64   `json:"uniqueIps"`
	PageViews          int64   `json:"pageViews"`
	BounceRate         float64 `json:"bounceRate"`
	AvgSessionDuration int64   `json:"avgSessionDuration"`
}

// StatsSummary totals a range. UniqueIPs is the sum of per-day unique counts,
// so a visitor seen on several days is counted once per day.
type StatsSummary struct {
	Visits             int64   `json:"visits"`
	UniqueIPs          int64   `json:"uniqueIps"`
	PageViews          int64   `json:"pageViews"`
	AvgBounceRate      float64 `json:"avgBounceRate"`
	AvgSessionDuration int64   `json:"avgSessionDuration"`
}

// RangeStats is a per-day series with its summary.
type RangeStats struct {
	Data  []DailyStats `json:"data"`
	Total StatsSummary `json:"total"`
}

// PageStats describes one page, either over a window (hot pages) or for one day (page history).
type PageStats struct {
	PageURL       string  `json:"pageUrl"`
	PageTitle     string  `json:"pageTitle,omitempty"`
	Date          string  `json:"date,omitempty"`
	VisitCount    int64   `json:"visitCount"`
	UniqueIPCount int64   `json:"uniqueIpCount"`
	AvgDuration   int64   `json:"avgDuration"`
	BounceRate    float64 `json:"bounceRate"`
}

// HotPage is a page entry of the realtime view.
type HotPage struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Visits    int64  `json:"visits"`
	UniqueIPs int64  `json:"uniqueIps"`
}

// RealtimeStats is the live dashboard view.
type RealtimeStats struct {
	CurrentOnline  int64     `json:"currentOnline"`
	TodayVisits    int64     `json:"todayVisits"`
	TodayUniqueIPs int64     `json:"todayUniqueIps"`
	LastHourVisits int64     `json:"lastHourVisits"`
	TopPages       []HotPage `json:"topPages"`
}

// HoursPerDay is the fixed length of an hourly series.
const HoursPerDay = 24
