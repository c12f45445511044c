package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	CategoryAll        Category = "all"
	CategoryRecyclable Category = "recyclable"
	CategoryResidual   Category = "residual"

	DefaultPageSize = 15
	// SummaryLimit is the number of rows in the dashboard summary table.
	SummaryLimit = 10
	// TrendLength is the number of points in the dashboard trend series.
	TrendLength = 7

	maxPagesToShow = 5
)

// Category selects records by the kind of content they carry.
type Category string

var ErrInvalidCategory = errors.New("invalid category")

// ParseCategory validates a category name; empty means all.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategoryAll, nil
	case CategoryAll, CategoryRecyclable, CategoryResidual:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
}

// MatchesCategory reports whether r passes the category filter. A record
// with both kinds of content passes both filters.
func MatchesCategory(r Record, c Category) bool {
	switch c {
	case CategoryRecyclable:
		return r.Recyclable.Total() > 0
	case CategoryResidual:
		return r.Residual.Total() > 0
	default:
		return true
	}
}

// DateLabel formats t the way the search box matches it (month/day/year).
func DateLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("1/2/2006")
}

// ViewState holds the filter and pagination selections of one session.
// JSON names follow the payload keys accepted by remote state updates.
type ViewState struct {
	CurrentPage        string     `json:"currentPage"`
	DashboardFilter    Window     `json:"dashboardFilter"`
	DashboardRange     *DateRange `json:"customDateRange"`
	CollectionsFilter  Window     `json:"collectionsFilter"`
	CollectionsRange   *DateRange `json:"collectionsCustomDateRange"`
	CollectionsPage    int        `json:"collectionsCurrentPage"`
	CollectionsPerPage int        `json:"collectionsPerPage"`
	SearchQuery        string     `json:"collectionsSearchQuery"`
	Category           Category   `json:"collectionsCategoryFilter"`
}

// DefaultViewState is the state of a fresh session.
func DefaultViewState() ViewState {
	return ViewState{
		CurrentPage:        "dashboard",
		DashboardFilter:    WindowDaily,
		CollectionsFilter:  WindowDaily,
		CollectionsPage:    1,
		CollectionsPerPage: DefaultPageSize,
		Category:           CategoryAll,
	}
}

// WithCollectionsFilter selects a window and returns to the first page.
func (v ViewState) WithCollectionsFilter(w Window, rng *DateRange) ViewState {
	v.CollectionsFilter = w
	if w == WindowCustom {
		v.CollectionsRange = rng
	}
	v.CollectionsPage = 1
	return v
}

// WithCategory selects a category and returns to the first page.
func (v ViewState) WithCategory(c Category) ViewState {
	v.Category = c
	v.CollectionsPage = 1
	return v
}

// WithSearch sets the lower-cased query and returns to the first page.
func (v ViewState) WithSearch(q string) ViewState {
	v.SearchQuery = strings.ToLower(q)
	v.CollectionsPage = 1
	return v
}

// WithPage moves to page p without clamping.
func (v ViewState) WithPage(p int) ViewState {
	v.CollectionsPage = p
	return v
}

// PageQuery returns the collections query described by the state.
func (v ViewState) PageQuery() PageQuery {
	return PageQuery{
		Window:   v.CollectionsFilter,
		Range:    v.CollectionsRange,
		Category: v.Category,
		Search:   v.SearchQuery,
		Page:     v.CollectionsPage,
		PageSize: v.CollectionsPerPage,
	}
}

// PageQuery is the input of BuildPage.
type PageQuery struct {
	Window   Window
	Range    *DateRange
	Category Category
	Search   string
	Page     int
	PageSize int
}

// Page is one page of the collections table.
type Page struct {
	Rows       []Record `json:"rows"`
	TotalCount int      `json:"totalCount"`
	PageCount  int      `json:"pageCount"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
}

// Empty reports whether the filtered set has no records at all.
func (p Page) Empty() bool {
	return p.TotalCount == 0
}

// FilterCollections applies window, category and search in that order.
func FilterCollections(records []Record, q PageQuery, now time.Time) []Record {
	filtered := FilterByWindow(records, q.Window, q.Range, now)

	query := strings.ToLower(q.Search)
	out := filtered[:0]
	for _, r := range filtered {
		if !MatchesCategory(r, q.Category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(DateLabel(r.Date, now.Location())), query) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// BuildPage filters records and slices out the requested page. A page
// outside [1, PageCount] yields no rows.
func BuildPage(records []Record, q PageQuery, now time.Time) Page {
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	filtered := FilterCollections(records, q, now)

	p := Page{
		Rows:       []Record{},
		TotalCount: len(filtered),
		PageCount:  (len(filtered) + size - 1) / size,
		Page:       q.Page,
		PageSize:   size,
	}
	if q.Page < 1 {
		return p
	}
	start := (q.Page - 1) * size
	if start >= len(filtered) {
		return p
	}
	end := min(start+size, len(filtered))
	p.Rows = append(p.Rows, filtered[start:end]...)
	return p
}

// Pager describes the pagination controls for a page.
type Pager struct {
	Current          int   `json:"current"`
	Total            int   `json:"total"`
	Pages            []int `json:"pages"`
	ShowFirst        bool  `json:"showFirst"`
	LeadingEllipsis  bool  `json:"leadingEllipsis"`
	ShowLast         bool  `json:"showLast"`
	TrailingEllipsis bool  `json:"trailingEllipsis"`
	HasPrev          bool  `json:"hasPrev"`
	HasNext          bool  `json:"hasNext"`
}

// Paginate centres a window of at most five page numbers on current.
// No controls are produced for a single page.
func Paginate(current, total int) Pager {
	p := Pager{Current: current, Total: total, Pages: []int{}}
	if total <= 1 {
		return p
	}
	start := max(1, current-maxPagesToShow/2)
	end := min(total, start+maxPagesToShow-1)
	if end-start < maxPagesToShow-1 {
		start = max(1, end-maxPagesToShow+1)
	}
	for i := start; i <= end; i++ {
		p.Pages = append(p.Pages, i)
	}
	p.ShowFirst = start > 1
	p.LeadingEllipsis = start > 2
	p.ShowLast = end < total
	p.TrailingEllipsis = end < total-1
	p.HasPrev = current > 1
	p.HasNext = current < total
	return p
}

// SummaryRow is one line of the dashboard summary table.
type SummaryRow struct {
	Date       time.Time `json:"date"`
	Label      string    `json:"label"`
	Total      float64   `json:"total"`
	Recyclable float64   `json:"recyclable"`
	Residual   float64   `json:"residual"`
}

// Summary returns the first limit records as table rows.
func Summary(records []Record, limit int, loc *time.Location) []SummaryRow {
	n := min(limit, len(records))
	rows := make([]SummaryRow, 0, n)
	for _, r := range records[:n] {
		rows = append(rows, SummaryRow{
			Date:       r.Date,
			Label:      DateLabel(r.Date, loc),
			Total:      r.Total(),
			Recyclable: r.Recyclable.Total(),
			Residual:   r.Residual.Total(),
		})
	}
	return rows
}

// TrendPoint is one point of the recent-history series.
type TrendPoint struct {
	Label      string  `json:"label"`
	Recyclable float64 `json:"recyclable"`
	Residual   float64 `json:"residual"`
}

// Trend takes the n most recent records (the head of a newest-first
// dataset) and returns them in chronological order.
func Trend(records []Record, n int, loc *time.Location) []TrendPoint {
	n = min(n, len(records))
	points := make([]TrendPoint, n)
	for i, r := range records[:n] {
		points[n-1-i] = TrendPoint{
			Label:      r.Date.In(loc).Format("Jan 2"),
			Recyclable: r.Recyclable.Total(),
			Residual:   r.Residual.Total(),
		}
	}
	return points
}
