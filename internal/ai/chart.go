package ai

import (
	"regexp"
	"time"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
)

// ChartType is the kind of chart suggested for a result.
type ChartType string

const (
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
	ChartBar  ChartType = "bar"
)

// ChartSpec names the columns a client should plot.
type ChartSpec struct {
	Type ChartType `json:"type"`
	X    string    `json:"x"`
	Y    string    `json:"y"`
}

var (
	timeColumnRe  = regexp.MustCompile(`(?i)(?:^|_)(?:date|day|time|timestamp|ts|week|month|hour|year)(?:$|_)`)
	shareColumnRe = regexp.MustCompile(`(?i)share|pct|percent|dominance|weight`)
	isoDayRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// SelectChart suggests a chart for rows, or returns nil when the shape does
// not call for one.
func SelectChart(rows []models.Row) *ChartSpec {
	if len(rows) < 2 {
		return nil
	}
	first := rows[0]

	timeCol := ""
	for _, f := range first {
		if isTimeColumn(f) {
			timeCol = f.Column
			break
		}
	}

	var numeric, share, category string
	for _, f := range first {
		if f.Column == timeCol {
			continue
		}
		switch {
		case isNumber(f.Value):
			if numeric == "" {
				numeric = f.Column
			}
			if share == "" && shareColumnRe.MatchString(f.Column) {
				share = f.Column
			}
		case category == "":
			if _, ok := f.Value.(string); ok {
				category = f.Column
			}
		}
	}

	switch {
	case timeCol != "" && numeric != "":
		return &ChartSpec{Type: ChartLine, X: timeCol, Y: numeric}
	case share != "" && category != "" && len(rows) <= 8:
		return &ChartSpec{Type: ChartPie, X: category, Y: share}
	case category != "" && numeric != "" && len(rows) <= 25:
		return &ChartSpec{Type: ChartBar, X: category, Y: numeric}
	}
	return nil
}

func isTimeColumn(f models.Field) bool {
	switch v := f.Value.(type) {
	case time.Time:
		return true
	case string:
		return isoDayRe.MatchString(v) || (timeColumnRe.MatchString(f.Column) && v != "")
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}
