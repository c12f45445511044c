package http

import (
	"net/http"

	"wastewatch/internal/core"
	"wastewatch/internal/log"
	"wastewatch/internal/session"
)

type dashboardResponse struct {
	session.DashboardView
	Formatted totalsText `json:"formatted"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	window, rng, err := parseDashboardQuery(r.URL.Query(), s.session.View())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	view, err := s.session.Dashboard(ctx, window, rng)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to build dashboard",
			log.FieldWindow, string(window),
			log.FieldError, err)
		InternalServerError("failed to load dashboard").Write(w)
		return
	}

	NewResponse().JSON(dashboardResponse{
		DashboardView: view,
		Formatted:     totalsToText(view.Totals),
	}).Write(w)
}

type collectionsResponse struct {
	Stats          core.Totals     `json:"stats"`
	StatsFormatted totalsText      `json:"statsFormatted"`
	Rows           []collectionRow `json:"rows"`
	TotalCount     int             `json:"totalCount"`
	PageCount      int             `json:"pageCount"`
	Page           int             `json:"page"`
	PageSize       int             `json:"pageSize"`
	Pager          core.Pager      `json:"pager"`
	Empty          bool            `json:"empty"`
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseCollectionsQuery(r.URL.Query(), s.session.View())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	view, err := s.session.Collections(ctx, q)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to build collections page",
			log.FieldWindow, string(q.Window),
			log.FieldError, err)
		InternalServerError("failed to load collections").Write(w)
		return
	}

	NewResponse().JSON(collectionsResponse{
		Stats:          view.Stats,
		StatsFormatted: totalsToText(view.Stats),
		Rows:           toRows(view.Page.Rows, s.session.Now().Location()),
		TotalCount:     view.Page.TotalCount,
		PageCount:      view.Page.PageCount,
		Page:           view.Page.Page,
		PageSize:       view.Page.PageSize,
		Pager:          view.Pager,
		Empty:          view.Page.Empty(),
	}).Write(w)
}
