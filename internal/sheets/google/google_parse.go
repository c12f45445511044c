package google

import (
	"fmt"
	"strconv"
	"strings"
)

var countColumns = []struct{ group, field string }{
	{"recyclable", "paper"},
	{"recyclable", "plastic"},
	{"recyclable", "carton"},
	{"residual", "paper"},
	{"residual", "plastic"},
	{"residual", "carton"},
}

// parseRecordRows converts a values matrix (as returned by the Sheets API)
// into raw record objects. The header row must have a Date column; count
// columns are named like "Recyclable Paper", "recyclable.paper" or
// "residual_carton". Missing count columns are left out of the record.
func parseRecordRows(values [][]interface{}) ([]map[string]any, error) {
	out := []map[string]any{}
	if len(values) == 0 {
		return out, nil
	}
	headers := toStrings(values[0])
	colDate := indexOf(headers, "date")
	if colDate == -1 {
		return nil, fmt.Errorf("unexpected header: missing Date; got headers=%v", headers)
	}
	cols := make([]int, len(countColumns))
	for i, c := range countColumns {
		cols[i] = indexOf(headers, c.group+" "+c.field)
	}

	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		date := strings.TrimSpace(safeGet(row, colDate))
		if date == "" && allBlank(row) {
			continue
		}
		rec := map[string]any{
			"date":       date,
			"recyclable": map[string]any{},
			"residual":   map[string]any{},
		}
		for j, c := range countColumns {
			if cols[j] == -1 {
				continue
			}
			rec[c.group].(map[string]any)[c.field] = parseCount(safeGet(row, cols[j]))
		}
		out = append(out, rec)
	}
	return out, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// normalizeHeader lower-cases h and folds "." and "_" into spaces.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func indexOf(arr []string, target string) int {
	target = normalizeHeader(target)
	for i, v := range arr {
		if normalizeHeader(v) == target {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func allBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseCount reads a cell, accepting a decimal comma. Unparseable cells are
// returned as-is and coerced later.
func parseCount(s string) any {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return s
	}
	return f
}
