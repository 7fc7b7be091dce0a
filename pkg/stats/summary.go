package stats

import (
	"fmt"
	"time"

	mstats "github.com/montanaflynn/stats"
)

// Summary describes every latency sample of a session, outliers included.
type Summary struct {
	Count  int
	Lost   int
	Min    time.Duration
	Median time.Duration
	P99    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration
}

// Recorder accumulates samples for a Summary.
type Recorder struct {
	data mstats.Float64Data
	lost int
}

func (r *Recorder) Add(d time.Duration) {
	r.data = append(r.data, float64(d))
}

func (r *Recorder) AddLost() {
	r.lost++
}

func (r *Recorder) Summary() (Summary, error) {
	s := Summary{Count: len(r.data), Lost: r.lost}
	if len(r.data) == 0 {
		return s, nil
	}

	var err error
	get := func(f func(mstats.Float64Data) (float64, error)) time.Duration {
		if err != nil {
			return 0
		}
		var v float64
		v, err = f(r.data)
		return time.Duration(v)
	}
	s.Min = get(mstats.Min)
	s.Median = get(mstats.Median)
	s.P99 = get(func(d mstats.Float64Data) (float64, error) { return mstats.Percentile(d, 99) })
	s.Max = get(mstats.Max)
	s.Mean = get(mstats.Mean)
	if len(r.data) > 1 {
		s.StdDev = get(mstats.StandardDeviationSample)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}

func (s Summary) String() string {
	total := s.Count + s.Lost
	loss := 0.0
	if total > 0 {
		loss = 100 * float64(s.Lost) / float64(total)
	}
	return fmt.Sprintf("%d samples, %d lost (%.1f%%), min %v median %v p99 %v max %v mean %v stddev %v",
		s.Count, s.Lost, loss, s.Min, s.Median, s.P99, s.Max, s.Mean, s.StdDev)
}
