// Package stats computes latency statistics per rank pair and formats the
// report printed at exit.
package stats

import "math"

// LatencyStats summarizes one set of latencies.
//
// Count, Min, Max, Mean and Std are exact. The percentiles are estimates
// from a t-digest and are zero when Count is zero.
type LatencyStats struct {
	Count int     `json:"count" yaml:"count" bson:"count"`
	Min   float64 `json:"min" yaml:"min" bson:"min"`
	Max   float64 `json:"max" yaml:"max" bson:"max"`
	Mean  float64 `json:"mean" yaml:"mean" bson:"mean"`
	Std   float64 `json:"std" yaml:"std" bson:"std"` // population standard deviation

	P50 float64 `json:"p50" yaml:"p50" bson:"p50"`
	P95 float64 `json:"p95" yaml:"p95" bson:"p95"`
	P99 float64 `json:"p99" yaml:"p99" bson:"p99"`
}

// Compute returns the statistics of latencies. An empty slice yields the
// zero value.
func Compute(latencies []float64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	s := LatencyStats{
		Count: len(latencies),
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}

	var sum float64
	for _, v := range latencies {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(s.Count)

	// Second pass over the deviations; divisor is the count.
	var sq float64
	for _, v := range latencies {
		d := v - s.Mean
		sq += d * d
	}
	s.Std = math.Sqrt(sq / float64(s.Count))

	s.P50, s.P95, s.P99 = percentiles(latencies)
	return s
}
