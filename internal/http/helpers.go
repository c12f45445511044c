package http

import (
	"time"

	"github.com/dustin/go-humanize"

	"wastewatch/internal/core"
)

// formatCount renders a count with thousands separators, e.g. 12,345.5.
func formatCount(v float64) string {
	return humanize.Commaf(v)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

type countsText struct {
	Paper   string `json:"paper"`
	Plastic string `json:"plastic"`
	Carton  string `json:"carton"`
	Total   string `json:"total"`
}

// totalsText is Totals as display strings.
type totalsText struct {
	Recyclable countsText `json:"recyclable"`
	Residual   countsText `json:"residual"`
	Total      string     `json:"total"`
}

func countsToText(c core.Counts) countsText {
	return countsText{
		Paper:   formatCount(c.Paper),
		Plastic: formatCount(c.Plastic),
		Carton:  formatCount(c.Carton),
		Total:   formatCount(c.Total()),
	}
}

func totalsToText(t core.Totals) totalsText {
	return totalsText{
		Recyclable: countsToText(t.Recyclable),
		Residual:   countsToText(t.Residual),
		Total:      formatCount(t.Total()),
	}
}

// collectionRow is one line of the collections table.
type collectionRow struct {
	Date       time.Time   `json:"date"`
	Label      string      `json:"label"`
	Recyclable core.Counts `json:"recyclable"`
	Residual   core.Counts `json:"residual"`
	Total      float64     `json:"total"`
}

func toRows(recs []core.Record, loc *time.Location) []collectionRow {
	rows := make([]collectionRow, len(recs))
	for i, r := range recs {
		rows[i] = collectionRow{
			Date:       r.Date,
			Label:      core.DateLabel(r.Date, loc),
			Recyclable: r.Recyclable,
			Residual:   r.Residual,
			Total:      r.Total(),
		}
	}
	return rows
}

// compartmentCard is a compartment with its display family and fill level.
type compartmentCard struct {
	core.Compartment
	CardClass   string `json:"cardClass"`
	FillPercent int    `json:"fillPercent"`
}

func toCards(cs []core.Compartment) []compartmentCard {
	cards := make([]compartmentCard, len(cs))
	for i, c := range cs {
		pct := 0
		if c.Capacity > 0 {
			pct = min(100, c.Items*100/c.Capacity)
		}
		cards[i] = compartmentCard{Compartment: c, CardClass: core.CardClass(c.Type), FillPercent: pct}
	}
	return cards
}
