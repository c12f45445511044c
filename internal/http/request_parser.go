package http

// Query parsing for the dashboard and collections endpoints. Parameters
// that are present override the session's view state for one request;
// absent ones fall back to it.

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"wastewatch/internal/core"
)

var (
	errInvalidPage  = errors.New("invalid page")
	errInvalidRange = errors.New("invalid date range")
	errBodyTooLarge = errors.New("request body too large")
)

// parseRange reads start and end as YYYY-MM-DD. Both must be given
// together; nil means neither was.
func parseRange(q url.Values) (*core.DateRange, error) {
	start, end := strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("%w: start and end must be given together", errInvalidRange)
	}
	s, err := core.ParseDay(start)
	if err != nil {
		return nil, fmt.Errorf("%w: start %q", errInvalidRange, start)
	}
	e, err := core.ParseDay(end)
	if err != nil {
		return nil, fmt.Errorf("%w: end %q", errInvalidRange, end)
	}
	return &core.DateRange{Start: s, End: e}, nil
}

// parseDashboardQuery returns the window and range the dashboard should
// use. The range is only returned for the custom window.
func parseDashboardQuery(q url.Values, v core.ViewState) (core.Window, *core.DateRange, error) {
	w := v.DashboardFilter
	if q.Has("window") {
		parsed, err := core.ParseWindow(q.Get("window"))
		if err != nil {
			return "", nil, err
		}
		w = parsed
	}
	rng, err := parseRange(q)
	if err != nil {
		return "", nil, err
	}
	if w != core.WindowCustom {
		return w, nil, nil
	}
	if rng == nil {
		rng = v.DashboardRange
	}
	return w, rng, nil
}

// parseCollectionsQuery applies the query parameters to v the same way the
// filter controls would, then returns the resulting page query.
func parseCollectionsQuery(q url.Values, v core.ViewState) (core.PageQuery, error) {
	rng, err := parseRange(q)
	if err != nil {
		return core.PageQuery{}, err
	}

	switch {
	case q.Has("window"):
		w, err := core.ParseWindow(q.Get("window"))
		if err != nil {
			return core.PageQuery{}, err
		}
		if rng == nil {
			rng = v.CollectionsRange
		}
		v = v.WithCollectionsFilter(w, rng)
	case rng != nil && v.CollectionsFilter == core.WindowCustom:
		v = v.WithCollectionsFilter(core.WindowCustom, rng)
	}

	if q.Has("category") {
		c, err := core.ParseCategory(q.Get("category"))
		if err != nil {
			return core.PageQuery{}, err
		}
		v = v.WithCategory(c)
	}
	if q.Has("q") {
		v = v.WithSearch(q.Get("q"))
	}
	if q.Has("page") {
		p, err := strconv.Atoi(strings.TrimSpace(q.Get("page")))
		if err != nil || p < 1 {
			return core.PageQuery{}, fmt.Errorf("%w: %q", errInvalidPage, q.Get("page"))
		}
		v = v.WithPage(p)
	}

	return v.PageQuery(), nil
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
