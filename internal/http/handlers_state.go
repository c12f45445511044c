package http

import (
	"errors"
	"net/http"

	"wastewatch/internal/log"
)

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.session.View()).Write(w)
}

// handlePatchState overlays the keys present in the body on the view
// state, exactly like a "state" payload.
func (s *Server) handlePatchState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r, s.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		PayloadTooLargeError(s.maxBody).Write(w)
		return
	}
	if err != nil {
		BadRequestError("could not read request body").Write(w)
		return
	}

	if err := s.session.MergeState(ctx, body); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Rejected state patch", log.FieldError, err)
		BadRequestError(err.Error()).Write(w)
		return
	}
	NewResponse().JSON(s.session.View()).Write(w)
}
