package core

import "strings"

const (
	DefaultCapacity = 100
	// fullPercent is the fill level at which a compartment is marked full.
	fullPercent = 90
)

// Compartment is one physical bin slot.
type Compartment struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Items    int    `json:"items"`
	Capacity int    `json:"capacity"`
	IsFull   bool   `json:"isFull"`
}

// CompartmentUpdate is one incoming compartment reading. Nil fields were
// absent from the payload.
type CompartmentUpdate struct {
	ID       *int
	Type     *string
	Name     *string
	Items    *float64
	Capacity *float64
	IsFull   *bool
}

// UpdateMode selects how a compartment update is applied.
type UpdateMode int

const (
	// MergeByID updates matching ids in place and appends unknown ids.
	MergeByID UpdateMode = iota
	// ReplaceAll discards the current list.
	ReplaceAll
)

func (m UpdateMode) String() string {
	if m == ReplaceAll {
		return "replace_all"
	}
	return "merge_by_id"
}

// ModeFor returns MergeByID when every update carries an id, ReplaceAll
// otherwise. An empty update merges nothing.
func ModeFor(incoming []CompartmentUpdate) UpdateMode {
	for _, u := range incoming {
		if u.ID == nil {
			return ReplaceAll
		}
	}
	return MergeByID
}

// ApplyCompartmentUpdate applies incoming in the mode chosen by ModeFor.
// existing is not modified.
func ApplyCompartmentUpdate(existing []Compartment, incoming []CompartmentUpdate) []Compartment {
	if ModeFor(incoming) == ReplaceAll {
		return ReplaceCompartments(incoming)
	}
	return MergeCompartments(existing, incoming)
}

// MergeCompartments overlays each update on the compartment with the same
// id; fields absent from the update keep their current value. Updates for
// unknown ids are appended with defaults.
func MergeCompartments(existing []Compartment, incoming []CompartmentUpdate) []Compartment {
	out := make([]Compartment, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	for _, u := range incoming {
		if u.ID == nil {
			continue
		}
		idx := -1
		for i := range out {
			if out[i].ID == *u.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, newCompartment(u))
			continue
		}
		c := &out[idx]
		if t, ok := u.typeLabel(); ok {
			c.Type = t
		}
		if u.Capacity != nil {
			c.Capacity = capacityOf(*u.Capacity)
		}
		if u.Items != nil {
			c.Items = int(Coerce(*u.Items))
		}
		if u.IsFull != nil {
			c.IsFull = *u.IsFull
		}
		c.Items = min(c.Items, c.Capacity)
	}
	return out
}

// ReplaceCompartments builds a fresh list from incoming.
func ReplaceCompartments(incoming []CompartmentUpdate) []Compartment {
	out := make([]Compartment, 0, len(incoming))
	for _, u := range incoming {
		out = append(out, newCompartment(u))
	}
	return out
}

func newCompartment(u CompartmentUpdate) Compartment {
	c := Compartment{Capacity: DefaultCapacity}
	if u.ID != nil {
		c.ID = *u.ID
	}
	c.Type, _ = u.typeLabel()
	if u.Capacity != nil {
		c.Capacity = capacityOf(*u.Capacity)
	}
	if u.Items != nil {
		c.Items = min(int(Coerce(*u.Items)), c.Capacity)
	}
	if u.IsFull != nil {
		c.IsFull = *u.IsFull
	}
	return c
}

// typeLabel prefers a non-empty type, then a non-empty name.
func (u CompartmentUpdate) typeLabel() (string, bool) {
	if u.Type != nil && *u.Type != "" {
		return *u.Type, true
	}
	if u.Name != nil && *u.Name != "" {
		return *u.Name, true
	}
	if u.Type != nil || u.Name != nil {
		return "", true
	}
	return "", false
}

func capacityOf(v float64) int {
	if c := int(Coerce(v)); c > 0 {
		return c
	}
	return DefaultCapacity
}

// ResetOne empties the compartment with the given id.
func ResetOne(cs []Compartment, id int) bool {
	for i := range cs {
		if cs[i].ID == id {
			cs[i].Items = 0
			cs[i].IsFull = false
			return true
		}
	}
	return false
}

// ResetAll empties every compartment.
func ResetAll(cs []Compartment) {
	for i := range cs {
		cs[i].Items = 0
		cs[i].IsFull = false
	}
}

// Grow adds n items up to capacity. IsFull is set once the fill level
// reaches 90% and stays set until a reset.
func (c *Compartment) Grow(n int) {
	if n <= 0 || c.Items >= c.Capacity {
		return
	}
	c.Items = min(c.Items+n, c.Capacity)
	if c.Items*100 >= c.Capacity*fullPercent {
		c.IsFull = true
	}
}

// CardClass maps a type label to its display family.
func CardClass(typ string) string {
	switch {
	case strings.Contains(typ, "Recyclable"):
		return "recyclable"
	case strings.Contains(typ, "Residual"):
		return "residual"
	case strings.Contains(typ, "Biodegradable"):
		return "biodegradable"
	}
	return ""
}

// DefaultCompartments is the layout of a standard seven-slot bin.
func DefaultCompartments() []Compartment {
	types := []string{
		"Recyclable - Paper",
		"Recyclable - Plastic",
		"Recyclable - Carton",
		"Residual - Paper",
		"Residual - Plastic",
		"Residual - Carton",
		"Biodegradable",
	}
	out := make([]Compartment, len(types))
	for i, t := range types {
		out[i] = Compartment{ID: i + 1, Type: t, Capacity: DefaultCapacity}
	}
	return out
}
