package session

import (
	"context"
	"testing"

	"wastewatch/internal/core"
)

func TestDashboardDaily(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(recordAt(10, 2, 1), recordAt(10, 3, 0), recordAt(9, 100, 100))

	v, err := s.Dashboard(ctx, core.WindowDaily, nil)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if v.Empty || v.Totals.Recyclable.Paper != 5 || v.Totals.Residual.Plastic != 1 {
		t.Fatalf("unexpected totals %+v", v.Totals)
	}
	if len(v.Summary) != 2 || len(v.Trend) != 2 || len(v.Distribution) != 6 {
		t.Fatalf("unexpected view %+v", v)
	}

	v, _ = s.Dashboard(ctx, core.WindowCustom, nil)
	if !v.Empty || len(v.Summary) != 0 {
		t.Fatalf("custom without range should be empty: %+v", v)
	}
}

func TestDashboardCacheInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(recordAt(10, 1, 0))

	first, _ := s.Dashboard(ctx, core.WindowDaily, nil)
	_ = s.Update(ctx, func(tx *Tx) error { return tx.PrependRecord(recordAt(10, 4, 0)) })
	second, _ := s.Dashboard(ctx, core.WindowDaily, nil)

	if first.Totals.Recyclable.Paper != 1 || second.Totals.Recyclable.Paper != 5 {
		t.Fatalf("stale dashboard: first=%v second=%v", first.Totals, second.Totals)
	}
}

func TestCollectionsStatsIgnoreCategory(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(recordAt(10, 2, 0), recordAt(9, 0, 3), recordAt(8, 1, 1))

	q := core.PageQuery{Window: core.WindowWeekly, Category: core.CategoryResidual, Page: 1, PageSize: 1}
	v, err := s.Collections(ctx, q)
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if v.Stats.Recyclable.Paper != 3 || v.Stats.Residual.Plastic != 4 {
		t.Fatalf("stats should cover the whole window: %+v", v.Stats)
	}
	if v.Page.TotalCount != 2 || v.Page.PageCount != 2 || len(v.Page.Rows) != 1 {
		t.Fatalf("unexpected page %+v", v.Page)
	}
	if len(v.Pager.Pages) != 2 || !v.Pager.HasNext || v.Pager.HasPrev {
		t.Fatalf("unexpected pager %+v", v.Pager)
	}
}
