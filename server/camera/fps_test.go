package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ms(values ...int) []time.Duration {
	d := make([]time.Duration, len(values))
	for i, v := range values {
		d[i] = time.Duration(v) * time.Millisecond
	}
	return d
}

func TestEstimateFPS(t *testing.T) {
	require.Equal(t, 0.0, EstimateFPS(nil))
	require.Equal(t, 0.0, EstimateFPS(ms(0, 0)))

	// Jitter and a single stall don't move the median
	require.Equal(t, 10.0, EstimateFPS(ms(100, 101, 99, 2500, 100)))
	require.Equal(t, 1.0, EstimateFPS(ms(1000, 1020, 990)))

	// Slow polling
	require.Equal(t, 0.5, EstimateFPS(ms(2000, 2001, 1999)))
	require.Equal(t, 0.33, EstimateFPS(ms(3000, 3010, 2995)))
	require.Equal(t, 0.1, EstimateFPS(ms(10000)))
}
