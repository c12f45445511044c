// Package ingest turns inbound JSON payloads into session mutations.
package ingest

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"

	"wastewatch/internal/core"
)

// Variant is the action a payload asks for, besides an optional state patch.
type Variant int

const (
	// VariantNone carries no dataset or compartment change.
	VariantNone Variant = iota
	// VariantReplace replaces the whole dataset.
	VariantReplace
	// VariantAppend prepends one record.
	VariantAppend
	// VariantCompartments updates the compartment list.
	VariantCompartments
)

func (v Variant) String() string {
	switch v {
	case VariantReplace:
		return "replace"
	case VariantAppend:
		return "append"
	case VariantCompartments:
		return "compartments"
	default:
		return "none"
	}
}

// ErrMalformed is returned for input that is not JSON.
var ErrMalformed = errors.New("malformed payload")

// Payload is a decoded inbound message.
type Payload struct {
	// State is the raw "state" object, nil when absent.
	State        json.RawMessage
	Variant      Variant
	Records      []map[string]any
	Record       map[string]any
	Compartments []core.CompartmentUpdate
}

// Decode classifies raw by shape. The first matching rule wins:
//
//	top-level array                      replace
//	"records" or "data" array            replace
//	"record"                             append
//	{"type":"record","data":...}         append
//	"compartments"                       compartments
//	{"type":"batch","items"|"data":[]}   replace
//	object with "date" and a category    append
//
// A "state" object is extracted independently of the variant. Shapes that
// match nothing decode to VariantNone without error.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if !gjson.ValidBytes(raw) {
		return p, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !truthy(root) {
		return p, nil
	}

	if root.IsArray() {
		p.Variant = VariantReplace
		p.Records = objects(root)
		return p, nil
	}
	if !root.IsObject() {
		return p, nil
	}

	if st := root.Get("state"); st.IsObject() {
		p.State = json.RawMessage(st.Raw)
	}

	for _, key := range []string{"records", "data"} {
		if v := root.Get(key); v.IsArray() {
			p.Variant = VariantReplace
			p.Records = objects(v)
			return p, nil
		}
	}

	typ := root.Get("type").String()
	data := root.Get("data")
	switch {
	case truthy(root.Get("record")):
		p.Variant = VariantAppend
		p.Record = object(root.Get("record"))
	case typ == "record" && truthy(data):
		p.Variant = VariantAppend
		p.Record = object(data)
	case truthy(root.Get("compartments")):
		cs := root.Get("compartments")
		if cs.IsArray() {
			p.Variant = VariantCompartments
			p.Compartments = compartmentUpdates(cs)
		}
	case typ == "batch" && root.Get("items").IsArray():
		p.Variant = VariantReplace
		p.Records = objects(root.Get("items"))
	case truthy(root.Get("date")) && (truthy(root.Get("recyclable")) || truthy(root.Get("residual"))):
		p.Variant = VariantAppend
		p.Record = object(root)
	}
	return p, nil
}

// truthy mirrors the loose presence test applied to payload fields: absent,
// null, false, 0 and "" do not count.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.True, gjson.JSON:
		return true
	}
	return false
}

func objects(arr gjson.Result) []map[string]any {
	items := arr.Array()
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = object(it)
	}
	return out
}

// object returns r as a map, or nil when r is not an object.
func object(r gjson.Result) map[string]any {
	m, _ := r.Value().(map[string]any)
	return m
}

func compartmentUpdates(arr gjson.Result) []core.CompartmentUpdate {
	items := arr.Array()
	out := make([]core.CompartmentUpdate, len(items))
	for i, it := range items {
		if !it.IsObject() {
			continue
		}
		var u core.CompartmentUpdate
		// A null id counts as absent, so a list holding one is applied as
		// ReplaceAll rather than matched by id.
		if id := it.Get("id"); id.Exists() && id.Type != gjson.Null {
			v := int(core.Coerce(id.Value()))
			u.ID = &v
		}
		if t := it.Get("type"); t.Type == gjson.String {
			s := t.Str
			u.Type = &s
		}
		if n := it.Get("name"); n.Type == gjson.String {
			s := n.Str
			u.Name = &s
		}
		if v := it.Get("items"); v.Exists() {
			f := core.Coerce(v.Value())
			u.Items = &f
		}
		if v := it.Get("capacity"); v.Exists() {
			f := core.Coerce(v.Value())
			u.Capacity = &f
		}
		if v := it.Get("isFull"); v.Exists() {
			b := truthy(v)
			u.IsFull = &b
		}
		out[i] = u
	}
	return out
}
