package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wastewatch/internal/core"
	"wastewatch/internal/log"
	"wastewatch/internal/session"
	"wastewatch/internal/sheets/memory"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.Local)
}

// testRecords is newest first, like the dataset.
func testRecords() []core.Record {
	return []core.Record{
		{Date: day(2024, 3, 15), Recyclable: core.Counts{Paper: 1200, Plastic: 34}, Residual: core.Counts{Carton: 1}},
		{Date: day(2024, 3, 14), Residual: core.Counts{Paper: 2}},
		{Date: day(2024, 2, 1), Recyclable: core.Counts{Carton: 5}},
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func newTestServer(t *testing.T, opts Options) (*Server, *session.Session) {
	t.Helper()
	sess := session.New(session.Options{
		Store: memory.New(testRecords()),
		Clock: func() time.Time { return testNow },
	})
	opts.Session = sess
	if opts.Logger == nil {
		opts.Logger = log.New(log.Config{Level: 100})
	}
	srv := NewServer(":0", opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, sess
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type errorReply struct {
	Error string `json:"error"`
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	srv, _ = newTestServer(t, Options{Ready: failingPinger{}})
	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store status=%d", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerMinute: 1})
	do(t, srv, http.MethodGet, "/api/state", "")
	do(t, srv, http.MethodGet, "/api/state?file=.env", "")
	do(t, srv, http.MethodPost, "/api/compartments/reset", "")
	if rr := do(t, srv, http.MethodPost, "/api/compartments/reset", ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second reset status=%d", rr.Code)
	}

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type=%q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"http_requests_total 4\n",
		"rate_limit_hits_total 1\n",
		"rate_limit_active_clients 1\n",
		"suspicious_requests_total 1\n",
		"ingest_sockets_active 0\n",
		"session_version 1\n",
		"# TYPE http_requests_total counter\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options=%q", got)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control=%q", got)
	}
	if !strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("missing request id, headers=%v", rr.Header())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type=%q", ct)
	}
}

type dashboardReply struct {
	Window    string            `json:"window"`
	Totals    core.Totals       `json:"totals"`
	Formatted totalsText        `json:"formatted"`
	Summary   []core.SummaryRow `json:"summary"`
	Trend     []core.TrendPoint `json:"trend"`
	Empty     bool              `json:"empty"`
}

func TestDashboard(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal float64
		wantRows  int
		wantEmpty bool
	}{
		{"default daily", "", 200, 1235, 1, false},
		{"weekly", "?window=weekly", 200, 1237, 2, false},
		{"custom range", "?window=custom&start=2024-02-01&end=2024-02-01", 200, 5, 1, false},
		{"custom without range", "?window=custom", 200, 0, 0, true},
		{"unknown window", "?window=yearly", 400, 0, 0, false},
		{"half range", "?window=custom&start=2024-02-01", 400, 0, 0, false},
		{"bad date", "?window=custom&start=2024-02-01&end=tomorrow", 400, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/dashboard"+tt.query, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if tt.wantCode != 200 {
				if e := decode[errorReply](t, rr); e.Error == "" {
					t.Fatal("error body missing message")
				}
				return
			}
			got := decode[dashboardReply](t, rr)
			if got.Totals.Total() != tt.wantTotal {
				t.Errorf("total=%v want %v", got.Totals.Total(), tt.wantTotal)
			}
			if len(got.Summary) != tt.wantRows || len(got.Trend) != tt.wantRows {
				t.Errorf("summary=%d trend=%d want %d", len(got.Summary), len(got.Trend), tt.wantRows)
			}
			if got.Empty != tt.wantEmpty {
				t.Errorf("empty=%v", got.Empty)
			}
		})
	}
}

func TestDashboardFormatsTotals(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	got := decode[dashboardReply](t, do(t, srv, http.MethodGet, "/api/dashboard", ""))
	if got.Formatted.Total != "1,235" {
		t.Errorf("formatted total=%q", got.Formatted.Total)
	}
	if got.Formatted.Recyclable.Paper != "1,200" {
		t.Errorf("formatted recyclable paper=%q", got.Formatted.Recyclable.Paper)
	}
	if got.Window != "daily" {
		t.Errorf("window=%q", got.Window)
	}
}

func TestDashboardTrendIsChronological(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	got := decode[dashboardReply](t, do(t, srv, http.MethodGet, "/api/dashboard?window=weekly", ""))
	if len(got.Trend) != 2 || got.Trend[0].Label != "Mar 14" || got.Trend[1].Label != "Mar 15" {
		t.Fatalf("trend=%+v", got.Trend)
	}
}

type collectionsReply struct {
	Stats      core.Totals     `json:"stats"`
	Rows       []collectionRow `json:"rows"`
	TotalCount int             `json:"totalCount"`
	PageCount  int             `json:"pageCount"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	Pager      core.Pager      `json:"pager"`
	Empty      bool            `json:"empty"`
}

func TestCollections(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	const all = "window=custom&start=2024-01-01&end=2024-03-31"

	tests := []struct {
		name       string
		query      string
		wantCode   int
		wantCount  int
		wantRows   int
		wantLabels []string
	}{
		{"default state", "", 200, 1, 1, []string{"3/15/2024"}},
		{"monthly residual", "?window=monthly&category=residual", 200, 2, 2, []string{"3/15/2024", "3/14/2024"}},
		{"recyclable over range", "?" + all + "&category=recyclable", 200, 2, 2, []string{"3/15/2024", "2/1/2024"}},
		{"search by date", "?" + all + "&q=3/14", 200, 1, 1, []string{"3/14/2024"}},
		{"page past the end", "?" + all + "&page=5", 200, 3, 0, nil},
		{"bad page", "?page=0", 400, 0, 0, nil},
		{"non-numeric page", "?page=two", 400, 0, 0, nil},
		{"bad category", "?category=glass", 400, 0, 0, nil},
		{"bad window", "?window=hourly", 400, 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/collections"+tt.query, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if tt.wantCode != 200 {
				return
			}
			got := decode[collectionsReply](t, rr)
			if got.TotalCount != tt.wantCount {
				t.Errorf("totalCount=%d want %d", got.TotalCount, tt.wantCount)
			}
			if len(got.Rows) != tt.wantRows {
				t.Fatalf("rows=%d want %d", len(got.Rows), tt.wantRows)
			}
			for i, want := range tt.wantLabels {
				if got.Rows[i].Label != want {
					t.Errorf("row %d label=%q want %q", i, got.Rows[i].Label, want)
				}
			}
		})
	}
}

func TestCollectionsStatsIgnoreCategoryAndSearch(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/api/collections?window=custom&start=2024-01-01&end=2024-03-31&category=residual&q=2/1", "")
	got := decode[collectionsReply](t, rr)
	if got.Stats.Total() != 1242 {
		t.Errorf("stats total=%v want 1242", got.Stats.Total())
	}
	if got.TotalCount != 0 || !got.Empty {
		t.Errorf("totalCount=%d empty=%v", got.TotalCount, got.Empty)
	}
}

func TestCollectionsPagination(t *testing.T) {
	recs := make([]core.Record, 40)
	for i := range recs {
		recs[i] = core.Record{Date: testNow, Recyclable: core.Counts{Paper: 1}}
	}
	sess := session.New(session.Options{
		Store:    memory.New(recs),
		PageSize: 5,
		Clock:    func() time.Time { return testNow },
	})
	srv := NewServer(":0", Options{Session: sess, Logger: log.New(log.Config{Level: 100})})
	defer srv.Shutdown(context.Background())

	got := decode[collectionsReply](t, do(t, srv, http.MethodGet, "/api/collections?page=4", ""))
	if got.PageCount != 8 || len(got.Rows) != 5 {
		t.Fatalf("pageCount=%d rows=%d", got.PageCount, len(got.Rows))
	}
	want := []int{2, 3, 4, 5, 6}
	if len(got.Pager.Pages) != len(want) {
		t.Fatalf("pages=%v", got.Pager.Pages)
	}
	for i := range want {
		if got.Pager.Pages[i] != want[i] {
			t.Fatalf("pages=%v want %v", got.Pager.Pages, want)
		}
	}
	if !got.Pager.ShowFirst || got.Pager.LeadingEllipsis || !got.Pager.TrailingEllipsis {
		t.Errorf("pager flags=%+v", got.Pager)
	}
}

func TestCompartments(t *testing.T) {
	srv, sess := newTestServer(t, Options{})
	ctx := context.Background()
	if err := sess.Update(ctx, func(tx *session.Tx) error {
		tx.Grow(1, 50)
		tx.Grow(2, 95)
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cards := decode[[]compartmentCard](t, do(t, srv, http.MethodGet, "/api/compartments", ""))
	if len(cards) != 7 {
		t.Fatalf("cards=%d", len(cards))
	}
	if cards[0].CardClass != "recyclable" || cards[3].CardClass != "residual" || cards[6].CardClass != "biodegradable" {
		t.Errorf("card classes: %s %s %s", cards[0].CardClass, cards[3].CardClass, cards[6].CardClass)
	}
	if cards[0].FillPercent != 50 || cards[0].IsFull {
		t.Errorf("card 1=%+v", cards[0])
	}
	if cards[1].FillPercent != 95 || !cards[1].IsFull {
		t.Errorf("card 2=%+v", cards[1])
	}

	rr := do(t, srv, http.MethodPost, "/api/compartments/2/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status=%d", rr.Code)
	}
	if c := sess.Compartments()[1]; c.Items != 0 || c.IsFull {
		t.Errorf("compartment 2 after reset=%+v", c)
	}
	if sess.Compartments()[0].Items != 50 {
		t.Error("reset of one compartment touched another")
	}

	if rr := do(t, srv, http.MethodPost, "/api/compartments/99/reset", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/compartments/abc/reset", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status=%d", rr.Code)
	}

	if rr := do(t, srv, http.MethodPost, "/api/compartments/reset", ""); rr.Code != http.StatusOK {
		t.Fatalf("reset all status=%d", rr.Code)
	}
	for _, c := range sess.Compartments() {
		if c.Items != 0 {
			t.Errorf("compartment %d not reset: %+v", c.ID, c)
		}
	}

	if rr := do(t, srv, http.MethodGet, "/api/compartments/reset", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on reset status=%d", rr.Code)
	}
}

func TestStatePatchDrivesDefaults(t *testing.T) {
	srv, sess := newTestServer(t, Options{})

	view := decode[core.ViewState](t, do(t, srv, http.MethodGet, "/api/state", ""))
	if view.CurrentPage != "dashboard" || view.DashboardFilter != core.WindowDaily {
		t.Fatalf("initial view=%+v", view)
	}

	rr := do(t, srv, http.MethodPatch, "/api/state", `{"dashboardFilter":"weekly","currentPage":"collections"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	if v := sess.View(); v.DashboardFilter != core.WindowWeekly || v.CurrentPage != "collections" {
		t.Fatalf("view after patch=%+v", v)
	}
	got := decode[dashboardReply](t, do(t, srv, http.MethodGet, "/api/dashboard", ""))
	if got.Window != "weekly" || len(got.Summary) != 2 {
		t.Errorf("dashboard did not follow state: window=%s rows=%d", got.Window, len(got.Summary))
	}

	if rr := do(t, srv, http.MethodPatch, "/api/state", `{`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid patch status=%d", rr.Code)
	}
	if v := sess.View(); v.DashboardFilter != core.WindowWeekly {
		t.Errorf("invalid patch changed state: %+v", v)
	}
}

func TestCollectionsReportsEffectivePageSize(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	if rr := do(t, srv, http.MethodPatch, "/api/state", `{"collectionsPerPage":0}`); rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d", rr.Code)
	}
	got := decode[collectionsReply](t, do(t, srv, http.MethodGet, "/api/collections?window=monthly", ""))
	if got.PageSize != core.DefaultPageSize {
		t.Fatalf("pageSize=%d, want %d", got.PageSize, core.DefaultPageSize)
	}
	if got.TotalCount != 2 || len(got.Rows) != 2 || got.PageCount != 1 {
		t.Fatalf("page=%+v", got)
	}
}

func TestIngestEndpoint(t *testing.T) {
	srv, sess := newTestServer(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantVariant string
		wantIgnored bool
		wantRecords int
	}{
		{"append", `{"record":{"date":"2024-03-15T10:00:00","residual":{"plastic":4}}}`, 200, "append", false, 4},
		{"unknown shape", `{"hello":"world"}`, 200, "none", true, 4},
		{"malformed", `{"record":`, 400, "", false, 4},
		{"replace", `[{"date":"2024-03-15T10:00:00","recyclable":{"paper":1}}]`, 200, "replace", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/ingest", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if tt.wantCode == 200 {
				got := decode[ingestResult](t, rr)
				if got.Variant != tt.wantVariant || got.Ignored != tt.wantIgnored {
					t.Errorf("result=%+v", got)
				}
			}
			recs, err := sess.Records(ctx)
			if err != nil {
				t.Fatalf("Records: %v", err)
			}
			if len(recs) != tt.wantRecords {
				t.Errorf("records=%d want %d", len(recs), tt.wantRecords)
			}
		})
	}
}

func TestIngestCompartmentsReportsMode(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	got := decode[ingestResult](t, do(t, srv, http.MethodPost, "/api/ingest", `{"compartments":[{"id":1,"items":10}]}`))
	if got.Variant != "compartments" || got.Mode != "merge_by_id" {
		t.Errorf("result=%+v", got)
	}
}

func TestIngestBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxBodyBytes: 16})
	rr := do(t, srv, http.MethodPost, "/api/ingest", `{"records":[{"date":"2024-01-01"}]}`)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRateLimitAppliesToMutations(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPost, "/api/compartments/reset", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodPost, "/api/compartments/reset", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	for i := 0; i < 5; i++ {
		if rr := do(t, srv, http.MethodGet, "/api/compartments", ""); rr.Code != http.StatusOK {
			t.Fatalf("read %d limited: %d", i, rr.Code)
		}
	}
}

func dialIngest(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/ingest"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status=%d", resp.StatusCode)
	}
	return conn
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) socketMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var m socketMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s frame: %v", typ, err)
		}
		if m.Type == typ {
			return m
		}
	}
}

func TestIngestSocket(t *testing.T) {
	srv, sess := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	conn := dialIngest(t, ts)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"record":{"date":"2024-03-15T11:00:00","recyclable":{"carton":2}}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readUntil(t, conn, messageAck)
	if ack.Result == nil || ack.Result.Variant != "append" || ack.Result.Records != 1 {
		t.Fatalf("ack=%+v", ack)
	}
	recs, _ := sess.Records(context.Background())
	if len(recs) != 4 || recs[0].Recyclable.Carton != 2 {
		t.Fatalf("record not prepended: %+v", recs[0])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readUntil(t, conn, messageError); m.Error == "" {
		t.Fatalf("error frame without message: %+v", m)
	}

	// Changes made elsewhere are pushed to the socket.
	if _, err := sess.ResetCompartment(context.Background(), 1); err != nil {
		t.Fatalf("ResetCompartment: %v", err)
	}
	want := sess.Version()
	for {
		upd := readUntil(t, conn, messageUpdate)
		if upd.Version < want {
			continue
		}
		if upd.Version != want || len(upd.Changes) == 0 {
			t.Fatalf("update=%+v want version %d", upd, want)
		}
		break
	}
}

func TestShutdownClosesSockets(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	conn := dialIngest(t, ts)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveSockets() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Logf("read ended with %v", err)
			}
			return
		}
	}
}
