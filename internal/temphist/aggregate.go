package temphist

import (
	"fmt"
	"math"
)

// ComputeSummary fills in the derived fields of a dataset (mean, trend,
// completeness, summary text) from its raw values. The async path usually
// delivers these precomputed; the sync fallback serves bare values and relies
// on this to produce the same shape.
func ComputeSummary(ds *TemperatureDataset) {
	if ds == nil || len(ds.Values) == 0 {
		return
	}

	var (
		sum     float64
		minYear = ds.Values[0].Year
		maxYear = ds.Values[0].Year
	)
	for _, v := range ds.Values {
		sum += v.Temperature
		if v.Year < minYear {
			minYear = v.Year
		}
		if v.Year > maxYear {
			maxYear = v.Year
		}
	}

	n := float64(len(ds.Values))
	mean := sum / n
	ds.Average = Average{Mean: round1(mean)}

	// Least-squares slope over (year, temperature), reported per decade.
	var meanYear float64
	for _, v := range ds.Values {
		meanYear += float64(v.Year)
	}
	meanYear /= n

	var num, den float64
	for _, v := range ds.Values {
		dy := float64(v.Year) - meanYear
		num += dy * (v.Temperature - mean)
		den += dy * dy
	}
	var slope float64
	if den > 0 {
		slope = num / den
	}
	ds.Trend = Trend{Slope: round2(slope * 10), Unit: "°C/decade"}

	expected := maxYear - minYear + 1
	if expected < 1 {
		expected = 1
	}
	ds.Completeness = Completeness{
		ExpectedYears: expected,
		ActualYears:   len(ds.Values),
		Ratio:         round2(n / float64(expected)),
	}

	if ds.Summary == "" {
		ds.Summary = summaryText(ds, minYear, maxYear)
	}
}

func summaryText(ds *TemperatureDataset, minYear, maxYear int) string {
	direction := "stable temperatures"
	switch {
	case ds.Trend.Slope >= 0.05:
		direction = fmt.Sprintf("warming of %.2f%s", ds.Trend.Slope, ds.Trend.Unit)
	case ds.Trend.Slope <= -0.05:
		direction = fmt.Sprintf("cooling of %.2f%s", -ds.Trend.Slope, ds.Trend.Unit)
	}
	return fmt.Sprintf("Average of %.1f°C across %d–%d with %s.",
		ds.Average.Mean, minYear, maxYear, direction)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
