package sim

import (
	"math"
	"sort"
)

// HistogramBuckets is the number of ending-balance bins
const HistogramBuckets = 20

// percentile returns the p-th quantile (0..1) of sorted values using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n == 1:
		return sorted[0]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func bandOf(label string, values []float64) Band {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Band{
		Label: label,
		P10:   percentile(sorted, 0.10),
		P25:   percentile(sorted, 0.25),
		P50:   percentile(sorted, 0.50),
		P75:   percentile(sorted, 0.75),
		P90:   percentile(sorted, 0.90),
	}
}

// histogram bins values into n equal-width buckets spanning min..max. The
// maximum lands in the last bucket. Identical values share one bucket.
// Non-finite values are skipped.
func histogram(values []float64, n int) []Bucket {
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			kept = append(kept, v)
		}
	}
	values = kept
	if len(values) == 0 || n <= 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return []Bucket{{From: lo, To: hi, Count: len(values)}}
	}

	width := (hi - lo) / float64(n)
	if math.IsInf(width, 0) || width <= 0 {
		return []Bucket{{From: lo, To: hi, Count: len(values)}}
	}
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].From = lo + float64(i)*width
		buckets[i].To = lo + float64(i+1)*width
	}
	buckets[n-1].To = hi

	for _, v := range values {
		i := int((v - lo) / width)
		switch {
		case i < 0:
			i = 0
		case i >= n:
			i = n - 1
		}
		buckets[i].Count++
	}
	return buckets
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
