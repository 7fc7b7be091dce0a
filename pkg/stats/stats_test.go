package stats_test

import (
	"encoding/binary"
	"math/big"
	"math/rand/v2"
	"testing"
	"time"

	"nanoping/pkg/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkMoments feeds offset-shifted bytes into an unbounded window and
// compares its integer mean and standard deviation with exact rationals.
func checkMoments(t *testing.T, offset int64, samples []byte) {
	const maxSamples = 1e6
	n := int64(len(samples))

	if n < 2 || n > maxSamples {
		return
	}

	s := stats.NewWindow[int64](maxSamples, 0)

	tr := new(big.Rat)
	ti := new(big.Int)

	sum := new(big.Int)
	for _, b := range samples {
		sample := int64(b) + offset
		sum.Add(sum, ti.SetInt64(sample))
		assert.True(t, s.Add(sample))
	}

	avg := new(big.Rat)
	avg.SetFrac(sum, ti.SetInt64(n))

	sumSqDev := new(big.Rat)
	for _, b := range samples {
		sample := int64(b) + offset
		sumSqDev.Add(sumSqDev, tr.SetInt64(sample).Sub(tr, avg).Mul(tr, tr))
	}
	tr.Quo(sumSqDev, tr.SetInt64(n-1))
	stdDevI := ti.Div(tr.Num(), tr.Denom()).Sqrt(ti).Int64()
	avgI := ti.Div(avg.Num(), avg.Denom()).Int64()

	assert.Equal(t, avgI, s.Mean())
	assert.Equal(t, stdDevI, s.StdDev())
}

func FuzzWindowMoments(f *testing.F) {
	for _, i := range []int64{-255, -127, 0, 127} {
		buf := make([]byte, 4)
		binary.NativeEndian.PutUint32(buf, rand.Uint32())
		f.Add(i, buf)
	}
	f.Fuzz(checkMoments)
}

func TestWindowRejectsOutliers(t *testing.T) {
	w := stats.NewWindow[time.Duration](4, 3)
	for _, d := range []time.Duration{100, 102, 98, 100} {
		require.True(t, w.Add(d))
	}
	assert.Equal(t, time.Duration(100), w.Mean())
	require.True(t, w.Full())
	lo, hi := w.Bounds()
	assert.Equal(t, w.Mean()-3*w.StdDev(), lo)
	assert.Equal(t, w.Mean()+3*w.StdDev(), hi)

	assert.False(t, w.Add(hi+1))
	assert.False(t, w.Add(10_000))
	assert.Equal(t, 2, w.Rejected())
	assert.Equal(t, 4, w.Len())

	// an in-range value displaces the oldest
	assert.True(t, w.Add(101))
	assert.Equal(t, 4, w.Len())
}

func TestWindowAcceptsAnythingUntilFull(t *testing.T) {
	w := stats.NewWindow[time.Duration](3, 0)
	assert.False(t, w.Full())
	for _, d := range []time.Duration{time.Microsecond, time.Second, time.Nanosecond} {
		assert.True(t, w.Add(d))
	}
	assert.True(t, w.Full())
	assert.False(t, w.Add(2*time.Second))
	assert.Equal(t, 1, w.Rejected())
}

func TestSummary(t *testing.T) {
	var r stats.Recorder
	s, err := r.Summary()
	require.NoError(t, err)
	assert.Zero(t, s.Count)

	for _, d := range []time.Duration{400, 100, 300, 200} {
		r.Add(d)
	}
	r.AddLost()

	s, err = r.Summary()
	require.NoError(t, err)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1, s.Lost)
	assert.Equal(t, time.Duration(100), s.Min)
	assert.Equal(t, time.Duration(250), s.Median)
	assert.Equal(t, time.Duration(400), s.Max)
	assert.Equal(t, time.Duration(250), s.Mean)
	assert.Contains(t, s.String(), "4 samples, 1 lost (20.0%)")
}

func TestSummarySingle(t *testing.T) {
	var r stats.Recorder
	r.Add(42)
	s, err := r.Summary()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(42), s.P99)
	assert.Zero(t, s.StdDev)
}
