package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var testLogger = logging.NewDiscardLogger()

const testToday = 20250601

type fakeStats struct {
	lastStart, lastEnd int
	lastDays           int
	lastLimit          int
	lastDate           int
	lastPage           string
}

func (f *fakeStats) Today() int { return testToday }

func (f *fakeStats) GetTodayStats(ctx context.Context) *analytics.DailyStats {
	return &analytics.DailyStats{Date: "2025-06-01", TotalVisits: 3, UniqueIPs: 2}
}

func (f *fakeStats) GetRangeStats(ctx context.Context, startKey, endKey int) *analytics.RangeStats {
	f.lastStart, f.lastEnd = startKey, endKey
	return &analytics.RangeStats{Data: []analytics.DailyStats{}}
}

func (f *fakeStats) GetHotPages(ctx context.Context, days, limit int) []analytics.PageStats {
	f.lastDays, f.lastLimit = days, limit
	return []analytics.PageStats{{PageURL: "/a", VisitCount: 2}}
}

func (f *fakeStats) GetRealtimeStats(ctx context.Context) *analytics.RealtimeStats {
	return &analytics.RealtimeStats{CurrentOnline: 1, TopPages: []analytics.HotPage{}}
}

func (f *fakeStats) GetHourlyStats(ctx context.Context, dateKey int) []int64 {
	f.lastDate = dateKey
	return make([]int64, analytics.HoursPerDay)
}

func (f *fakeStats) GetPageStats(ctx context.Context, pageURL string, days int) []analytics.PageStats {
	f.lastPage, f.lastDays = pageURL, days
	return []analytics.PageStats{}
}

func (f *fakeStats) GetBrowserStats(ctx context.Context, dateKey int) []analytics.BreakdownItem {
	f.lastDate = dateKey
	return []analytics.BreakdownItem{{Name: "Chrome", Count: 1}}
}

func (f *fakeStats) GetOSStats(ctx context.Context, dateKey int) []analytics.BreakdownItem {
	f.lastDate = dateKey
	return []analytics.BreakdownItem{}
}

func (f *fakeStats) GetRegionStats(ctx context.Context, days, limit int) []analytics.BreakdownItem {
	f.lastDays, f.lastLimit = days, limit
	return []analytics.BreakdownItem{}
}

func (f *fakeStats) GetRefererStats(ctx context.Context, days, limit int) []analytics.BreakdownItem {
	f.lastDays, f.lastLimit = days, limit
	return []analytics.BreakdownItem{}
}

func perform(r http.Handler, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestIntParamBounds(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 7, false},
		{"?days=1", 1, false},
		{"?days=365", 365, false},
		{"?days=0", 0, true},
		{"?days=366", 0, true},
		{"?days=abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)

			got, err := intParam(c, "days", 7, 1, 365)
			if (err != nil) != tt.wantErr {
				t.Fatalf("intParam error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intParam = %d, want %d", got, tt.want)
			}
			if err != nil && statusFor(err) != http.StatusBadRequest {
				t.Errorf("statusFor = %d, want 400", statusFor(err))
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(fmt.Errorf("%w: empty", analytics.ErrInvalidInput)); got != http.StatusBadRequest {
		t.Errorf("statusFor(invalid input) = %d", got)
	}
	if got := statusFor(fmt.Errorf("boom")); got != http.StatusInternalServerError {
		t.Errorf("statusFor(other) = %d", got)
	}
}
