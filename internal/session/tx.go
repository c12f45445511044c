package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"wastewatch/internal/core"
)

// Tx mutates a session inside Update. It must not be used after Update
// returns.
type Tx struct {
	ctx     context.Context
	s       *Session
	changes []string
}

func (tx *Tx) mark(kind string) {
	if !slices.Contains(tx.changes, kind) {
		tx.changes = append(tx.changes, kind)
	}
}

// MergeState overlays the keys present in raw on the view state. Nothing
// is applied when raw does not decode.
func (tx *Tx) MergeState(raw json.RawMessage) error {
	next := tx.s.view
	// Unmarshal writes through non-nil pointers; detach them from views
	// already handed out.
	next.DashboardRange = cloneRange(next.DashboardRange)
	next.CollectionsRange = cloneRange(next.CollectionsRange)
	if err := json.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	tx.s.view = next
	tx.mark(ChangeState)
	return nil
}

func cloneRange(r *core.DateRange) *core.DateRange {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ReplaceRecords swaps the dataset and returns the collections table to
// its first page.
func (tx *Tx) ReplaceRecords(recs []core.Record) error {
	if err := tx.s.store.Replace(tx.ctx, recs); err != nil {
		return fmt.Errorf("replace records: %w", err)
	}
	tx.s.view.CollectionsPage = 1
	tx.mark(ChangeRecords)
	return nil
}

// PrependRecord stores r as the newest record.
func (tx *Tx) PrependRecord(r core.Record) error {
	if err := tx.s.store.Prepend(tx.ctx, r); err != nil {
		return fmt.Errorf("prepend record: %w", err)
	}
	tx.mark(ChangeRecords)
	return nil
}

// ApplyCompartments merges or replaces the compartment list and reports
// which mode was used.
func (tx *Tx) ApplyCompartments(updates []core.CompartmentUpdate) core.UpdateMode {
	mode := core.ModeFor(updates)
	tx.s.comps = core.ApplyCompartmentUpdate(tx.s.comps, updates)
	tx.mark(ChangeCompartments)
	return mode
}

func (tx *Tx) ResetCompartment(id int) bool {
	if !core.ResetOne(tx.s.comps, id) {
		return false
	}
	tx.mark(ChangeCompartments)
	return true
}

func (tx *Tx) ResetCompartments() {
	core.ResetAll(tx.s.comps)
	tx.mark(ChangeCompartments)
}

// Grow adds n items to compartment id.
func (tx *Tx) Grow(id, n int) bool {
	for i := range tx.s.comps {
		if tx.s.comps[i].ID == id {
			before := tx.s.comps[i]
			tx.s.comps[i].Grow(n)
			if tx.s.comps[i] != before {
				tx.mark(ChangeCompartments)
			}
			return true
		}
	}
	return false
}

// Compartments returns a copy of the current list.
func (tx *Tx) Compartments() []core.Compartment {
	return append([]core.Compartment(nil), tx.s.comps...)
}
