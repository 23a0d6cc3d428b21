package stats

import "github.com/influxdata/tdigest"

// digestCompression keeps roughly 100 centroids (~10KB) per digest.
const digestCompression = 100

// percentiles estimates P50/P95/P99 of values.
func percentiles(values []float64) (p50, p95, p99 float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	td := tdigest.NewWithCompression(digestCompression)
	for _, v := range values {
		td.Add(v, 1)
	}
	return td.Quantile(0.50), td.Quantile(0.95), td.Quantile(0.99)
}
