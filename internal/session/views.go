package session

import (
	"context"
	"fmt"
	"time"

	"wastewatch/internal/core"
)

// DashboardView is everything the dashboard page shows for one window.
type DashboardView struct {
	Window       core.Window       `json:"window"`
	Totals       core.Totals       `json:"totals"`
	Distribution []core.Slice      `json:"distribution"`
	Summary      []core.SummaryRow `json:"summary"`
	Trend        []core.TrendPoint `json:"trend"`
	Empty        bool              `json:"empty"`
}

// CollectionsView is one page of the collections table with its stats.
// Stats cover the window only, before category and search.
type CollectionsView struct {
	Stats core.Totals `json:"stats"`
	Page  core.Page   `json:"page"`
	Pager core.Pager  `json:"pager"`
}

// Dashboard builds the dashboard for window w.
func (s *Session) Dashboard(ctx context.Context, w core.Window, rng *core.DateRange) (DashboardView, error) {
	recs, version, err := s.snapshot(ctx)
	if err != nil {
		return DashboardView{}, fmt.Errorf("list records: %w", err)
	}
	now := s.clock()
	key := fmt.Sprintf("%d|%s|%s|%s", version, now.Format(time.DateOnly), w, rangeKey(rng))
	if v, ok := s.dashboards.Get(key); ok {
		return v, nil
	}

	filtered := core.FilterByWindow(recs, w, rng, now)
	totals := core.Aggregate(filtered)
	v := DashboardView{
		Window:       w,
		Totals:       totals,
		Distribution: totals.Distribution(),
		Summary:      core.Summary(filtered, core.SummaryLimit, now.Location()),
		Trend:        core.Trend(filtered, core.TrendLength, now.Location()),
		Empty:        len(filtered) == 0,
	}
	s.dashboards.Set(key, v)
	return v, nil
}

// Collections builds the collections page described by q.
func (s *Session) Collections(ctx context.Context, q core.PageQuery) (CollectionsView, error) {
	recs, version, err := s.snapshot(ctx)
	if err != nil {
		return CollectionsView{}, fmt.Errorf("list records: %w", err)
	}
	now := s.clock()
	key := fmt.Sprintf("%d|%s|%s|%s|%s|%q|%d|%d", version, now.Format(time.DateOnly),
		q.Window, rangeKey(q.Range), q.Category, q.Search, q.Page, q.PageSize)
	if v, ok := s.collections.Get(key); ok {
		return v, nil
	}

	page := core.BuildPage(recs, q, now)
	v := CollectionsView{
		Stats: core.Aggregate(core.FilterByWindow(recs, q.Window, q.Range, now)),
		Page:  page,
		Pager: core.Paginate(q.Page, page.PageCount),
	}
	s.collections.Set(key, v)
	return v, nil
}

func rangeKey(r *core.DateRange) string {
	if r == nil {
		return "-"
	}
	return r.Start.Format(time.RFC3339) + ".." + r.End.Format(time.RFC3339)
}
