package core

// Totals is the per-category sum over a set of records.
type Totals struct {
	Recyclable Counts `json:"recyclable"`
	Residual   Counts `json:"residual"`
}

// Total returns recyclable plus residual items.
func (t Totals) Total() float64 {
	return t.Recyclable.Total() + t.Residual.Total()
}

// Aggregate sums the six counts across records.
func Aggregate(records []Record) Totals {
	var t Totals
	for _, r := range records {
		t.Recyclable.Paper += r.Recyclable.Paper
		t.Recyclable.Plastic += r.Recyclable.Plastic
		t.Recyclable.Carton += r.Recyclable.Carton
		t.Residual.Paper += r.Residual.Paper
		t.Residual.Plastic += r.Residual.Plastic
		t.Residual.Carton += r.Residual.Carton
	}
	return t
}

// Slice is one labelled value of the distribution chart.
type Slice struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Distribution flattens the totals in chart order.
func (t Totals) Distribution() []Slice {
	return []Slice{
		{"Recyclable Paper", t.Recyclable.Paper},
		{"Recyclable Plastic", t.Recyclable.Plastic},
		{"Recyclable Carton", t.Recyclable.Carton},
		{"Residual Paper", t.Residual.Paper},
		{"Residual Plastic", t.Residual.Plastic},
		{"Residual Carton", t.Residual.Carton},
	}
}
