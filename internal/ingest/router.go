package ingest

import (
	"context"
	"errors"
	"fmt"

	"wastewatch/internal/core"
	"wastewatch/internal/log"
	"wastewatch/internal/session"
)

// ErrAborted is returned when handling a payload panicked. Mutations made
// before the panic are kept.
var ErrAborted = errors.New("payload handling aborted")

// Result summarizes what Receive applied.
type Result struct {
	Variant     Variant
	StateMerged bool
	Records     int
	Mode        core.UpdateMode
}

// Receiver is what transports hand raw payloads to.
type Receiver interface {
	Receive(ctx context.Context, transport string, raw []byte) (Result, error)
}

// Router applies decoded payloads to a session.
type Router struct {
	session *session.Session
	logger  *log.Logger
}

func NewRouter(s *session.Session, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{session: s, logger: logger.WithComponent(log.ComponentIngest)}
}

// Receive decodes raw and applies it. transport only labels log lines.
// Malformed input returns ErrMalformed and changes nothing; unknown shapes
// are ignored.
func (r *Router) Receive(ctx context.Context, transport string, raw []byte) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "Payload handler panicked",
				log.FieldTransport, transport,
				"panic", p)
			err = fmt.Errorf("%w: %v", ErrAborted, p)
		}
	}()

	p, err := Decode(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "Discarding undecodable payload",
			log.FieldTransport, transport,
			log.FieldBytes, len(raw),
			log.FieldError, err)
		return res, err
	}
	res.Variant = p.Variant

	if p.State == nil && p.Variant == VariantNone {
		r.logger.DebugContext(ctx, "Ignoring payload with unrecognized shape",
			log.FieldTransport, transport)
		return res, nil
	}

	err = r.session.Update(ctx, func(tx *session.Tx) error {
		if p.State != nil {
			if err := tx.MergeState(p.State); err != nil {
				r.logger.WarnContext(ctx, "Ignoring invalid state patch",
					log.FieldTransport, transport,
					log.FieldError, err)
			} else {
				res.StateMerged = true
			}
		}
		return r.apply(tx, p, &res)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to apply payload",
			log.NewFields().WithPayload(transport, p.Variant.String(), res.Records).WithError(err).ToSlice()...)
		return res, err
	}

	r.logger.DebugContext(ctx, "Payload applied",
		log.NewFields().WithPayload(transport, p.Variant.String(), res.Records).ToSlice()...)
	return res, nil
}

func (r *Router) apply(tx *session.Tx, p Payload, res *Result) error {
	now := r.session.Now()
	switch p.Variant {
	case VariantReplace:
		recs := make([]core.Record, len(p.Records))
		for i, m := range p.Records {
			recs[i] = core.Normalize(m, now)
		}
		res.Records = len(recs)
		return tx.ReplaceRecords(recs)
	case VariantAppend:
		res.Records = 1
		return tx.PrependRecord(core.Normalize(p.Record, now))
	case VariantCompartments:
		res.Mode = tx.ApplyCompartments(p.Compartments)
	}
	return nil
}
