package pattern

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/negotiator/internal/model"
)

var patternHeader = []string{
	"pattern_id", "pattern_type", "influencer_category", "product_category", "tone",
	"budget_min", "budget_max", "usage_count", "success_count", "success_rate",
	"avg_deal_value", "avg_rounds", "avg_duration_hours", "avg_satisfaction", "key_phrases",
}

// ExportXLSX writes the patterns and an analytics summary to an .xlsx workbook
// with a "patterns" sheet and a "summary" sheet.
func ExportXLSX(path string, patterns []model.NegotiationPattern, summary *model.AnalyticsSummary) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("patterns")
	if err != nil {
		return eris.Wrap(err, "pattern: add patterns sheet")
	}
	addStrings(sheet.AddRow(), patternHeader...)
	for _, p := range patterns {
		row := sheet.AddRow()
		addStrings(row,
			p.PatternID,
			string(p.PatternType),
			p.Context.InfluencerCategory,
			p.Context.ProductCategory,
			p.Context.NegotiationTone,
		)
		addFloats(row, p.Context.InitialBudgetRange.Min, p.Context.InitialBudgetRange.Max)
		row.AddCell().SetInt(p.UsageCount)
		row.AddCell().SetInt(p.SuccessCount)
		addFloats(row,
			p.SuccessRate,
			p.SuccessMetrics.DealValue,
			p.SuccessMetrics.RoundsCount,
			p.SuccessMetrics.NegotiationDurationHours,
			p.SuccessMetrics.SatisfactionScore,
		)
		addStrings(row, strings.Join(p.KeyPhrases, "; "))
	}

	if summary != nil {
		ss, err := f.AddSheet("summary")
		if err != nil {
			return eris.Wrap(err, "pattern: add summary sheet")
		}
		addStrings(ss.AddRow(), "metric", "value")
		summaryRow(ss, "window_days", float64(summary.WindowDays))
		summaryRow(ss, "total_records", float64(summary.TotalRecords))
		summaryRow(ss, "total_patterns", float64(summary.TotalPatterns))
		summaryRow(ss, "avg_success_rate", summary.AvgSuccessRate)

		types := make([]string, 0, len(summary.ByPatternType))
		for t := range summary.ByPatternType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			summaryRow(ss, "type:"+t, float64(summary.ByPatternType[model.PatternType(t)]))
		}
		for _, tc := range summary.TopTones {
			summaryRow(ss, "tone:"+tc.Tone, float64(tc.Count))
		}
		cats := make([]string, 0, len(summary.ByCategory))
		for c := range summary.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			summaryRow(ss, "category:"+c, float64(summary.ByCategory[c]))
		}
	}

	return eris.Wrapf(f.Save(path), "pattern: save workbook %s", path)
}

func summaryRow(sheet *xlsx.Sheet, name string, v float64) {
	row := sheet.AddRow()
	addStrings(row, name)
	addFloats(row, v)
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloats(row *xlsx.Row, values ...float64) {
	for _, v := range values {
		row.AddCell().SetFloat(v)
	}
}
