package http

import (
	"net/http"
	"strconv"

	"wastewatch/internal/log"
)

func (s *Server) handleCompartments(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(toCards(s.session.Compartments())).Write(w)
}

func (s *Server) handleResetOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		BadRequestError("invalid compartment id " + strconv.Quote(r.PathValue("id"))).Write(w)
		return
	}

	found, err := s.session.ResetCompartment(ctx, id)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to reset compartment",
			log.FieldCompartmentID, id,
			log.FieldError, err)
		InternalServerError("failed to reset compartment").Write(w)
		return
	}
	if !found {
		NotFoundError("compartment " + strconv.Itoa(id) + " not found").Write(w)
		return
	}

	log.FromContext(ctx).InfoContext(ctx, "Compartment reset", log.FieldCompartmentID, id)
	NewResponse().JSON(toCards(s.session.Compartments())).Write(w)
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.session.ResetCompartments(ctx); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to reset compartments", log.FieldError, err)
		InternalServerError("failed to reset compartments").Write(w)
		return
	}

	log.FromContext(ctx).InfoContext(ctx, "All compartments reset")
	NewResponse().JSON(toCards(s.session.Compartments())).Write(w)
}
