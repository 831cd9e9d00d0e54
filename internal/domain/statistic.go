package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ZonalNoData is the sentinel excluded from every zonal statistic.
const ZonalNoData = -9999.0

// Statistic names.
const (
	StatCount    = "count"
	StatMin      = "min"
	StatMax      = "max"
	StatMean     = "mean"
	StatSum      = "sum"
	StatStd      = "std"
	StatMedian   = "median"
	StatMajority = "majority"
	StatMinority = "minority"
	StatUnique   = "unique"
	StatRange    = "range"
	StatNoData   = "nodata"
	StatNaN      = "nan"

	percentilePrefix = "percentile_"
)

var knownStats = map[string]bool{
	StatCount: true, StatMin: true, StatMax: true, StatMean: true, StatSum: true,
	StatStd: true, StatMedian: true, StatMajority: true, StatMinority: true,
	StatUnique: true, StatRange: true, StatNoData: true, StatNaN: true,
}

// Statistic is a parsed aggregate name.
type Statistic struct {
	Name       string  // lower-case name, "percentile_q" for percentiles
	Percentile float64 // q in [0, 100] for percentiles
}

// ParseStatistic lower-cases and validates a statistic name.
func ParseStatistic(name string) (Statistic, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if knownStats[n] {
		return Statistic{Name: n}, nil
	}
	if strings.HasPrefix(n, percentilePrefix) {
		q, err := strconv.ParseFloat(strings.TrimPrefix(n, percentilePrefix), 64)
		if err == nil && q >= 0 && q <= 100 {
			return Statistic{Name: n, Percentile: q}, nil
		}
		return Statistic{}, &ValidationError{
			Field:      "statistic",
			Value:      name,
			Constraint: "percentile_<q> with q in [0, 100]",
			Message:    "invalid percentile",
		}
	}
	return Statistic{}, fmt.Errorf("%w: %q", ErrUnknownStatistic, name)
}

// String returns the statistic name.
func (s Statistic) String() string {
	return s.Name
}

// IsPercentile reports whether s is a percentile_q statistic.
func (s Statistic) IsPercentile() bool {
	return strings.HasPrefix(s.Name, percentilePrefix)
}

// ResultType is the column type the statistic produces.
func (s Statistic) ResultType() FieldType {
	switch s.Name {
	case StatCount, StatUnique:
		return FieldInteger
	default:
		return FieldReal
	}
}

// StatValue is one per-feature statistic; Valid is false for the missing marker.
type StatValue struct {
	Value float64
	Valid bool
}

// Missing is the marker for a feature with no contributing cells.
func Missing() StatValue {
	return StatValue{Value: math.NaN()}
}

// Interface returns the attribute value to store: nil when missing.
func (v StatValue) Interface(typ FieldType) interface{} {
	if !v.Valid {
		return nil
	}
	if typ == FieldInteger {
		return int64(v.Value)
	}
	return v.Value
}

// CellSample is what a zone contributes to a statistic.
type CellSample struct {
	Values []float64 // valid cells only
	NoData int       // cells equal to the nodata sentinel
	NaN    int       // NaN cells
}

// Compute evaluates s over a zone. A zone without valid cells yields 0 for
// count, the raw tallies for nodata and nan, and Missing otherwise.
func (s Statistic) Compute(c CellSample) StatValue {
	switch s.Name {
	case StatNoData:
		return StatValue{Value: float64(c.NoData), Valid: true}
	case StatNaN:
		return StatValue{Value: float64(c.NaN), Valid: true}
	case StatCount:
		return StatValue{Value: float64(len(c.Values)), Valid: true}
	}

	x := c.Values
	if len(x) == 0 {
		return Missing()
	}

	var v float64
	switch {
	case s.Name == StatMin:
		v = floats.Min(x)
	case s.Name == StatMax:
		v = floats.Max(x)
	case s.Name == StatMean:
		v = stat.Mean(x, nil)
	case s.Name == StatSum:
		v = floats.Sum(x)
	case s.Name == StatStd:
		v = stat.PopStdDev(x, nil)
	case s.Name == StatRange:
		v = floats.Max(x) - floats.Min(x)
	case s.Name == StatMedian:
		v = percentile(x, 50)
	case s.IsPercentile():
		v = percentile(x, s.Percentile)
	case s.Name == StatMajority:
		v = mode(x, func(a, b int) bool { return a > b })
	case s.Name == StatMinority:
		v = mode(x, func(a, b int) bool { return a < b })
	case s.Name == StatUnique:
		v = float64(len(tally(x)))
	default:
		return Missing()
	}
	return StatValue{Value: v, Valid: true}
}

// percentile interpolates linearly between closest ranks.
func percentile(x []float64, q float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * q / 100
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

func tally(x []float64) map[float64]int {
	counts := make(map[float64]int, len(x))
	for _, v := range x {
		counts[v]++
	}
	return counts
}

// mode returns the value whose count wins under better; ties go to the smallest value.
func mode(x []float64, better func(a, b int) bool) float64 {
	counts := tally(x)
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	best := keys[0]
	for _, k := range keys[1:] {
		if better(counts[k], counts[best]) {
			best = k
		}
	}
	return best
}
