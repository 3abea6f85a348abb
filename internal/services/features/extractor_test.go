package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
)

var at = time.Date(2024, 5, 1, 14, 7, 0, 0, time.UTC)

func TestCompute_InsufficientHistory(t *testing.T) {
	_, err := Compute([]int{1, 2, 3, 4}, at)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
}

func TestCompute_Values(t *testing.T) {
	h := []int{0, 32, 15, 0, 5}
	f, err := Compute(h, at)
	require.NoError(t, err)

	assert.Len(t, f, len(Names()))
	assert.Equal(t, 0.0, f["last_1"])
	assert.Equal(t, 32.0, f["last_2"])
	assert.Equal(t, 15.0, f["last_3"])
	assert.Equal(t, 2.0, f["green_count_10"])
	assert.Equal(t, 2.0, f["red_count_10"]) // 32, 5
	assert.Equal(t, 1.0, f["black_count_10"])
	assert.Equal(t, 4.0, f["sector_voisins_zero_count_10"])
	assert.Equal(t, 1.0, f["sector_tiers_count_10"])
	assert.Equal(t, 0.0, f["sector_orphelins_count_10"])
	assert.InDelta(t, 10.4, f["mean_last_10"], 1e-9)
	assert.InDelta(t, 12.11, f["std_last_10"], 0.01)
	assert.Equal(t, 0.0, f["gap_since_last_0"])
	assert.Equal(t, 4.0, f["gap_since_last_5"])
	assert.Equal(t, 50.0, f["gap_since_last_7"])
	assert.Equal(t, 14.0, f["hour"])
	assert.Equal(t, 7.0, f["minute"])
}

func TestCompute_GapBeyondFifty(t *testing.T) {
	h := make([]int, 80)
	for i := range h {
		h[i] = 1
	}
	h[60] = 7
	h[70] = 7
	f, err := Compute(h, at)
	require.NoError(t, err)
	assert.Equal(t, 60.0, f["gap_since_last_7"])
	assert.Equal(t, 0.0, f["gap_since_last_1"])
	assert.Equal(t, 50.0, f["gap_since_last_9"])
}

func TestExtractor_MemoKeyCoversDeepHistory(t *testing.T) {
	e := NewExtractor(30 * time.Second)
	a := make([]int, 80)
	for i := range a {
		a[i] = 1
	}
	b := append([]int(nil), a...)
	b[70] = 7

	fa, err := e.Extract(a, at)
	require.NoError(t, err)
	fb, err := e.Extract(b, at)
	require.NoError(t, err)
	assert.Equal(t, 50.0, fa["gap_since_last_7"])
	assert.Equal(t, 70.0, fb["gap_since_last_7"])
}

func TestExtractor_MemoReturnsCopies(t *testing.T) {
	e := NewExtractor(30 * time.Second)
	h := []int{1, 2, 3, 4, 5, 6}

	a, err := e.Extract(h, at)
	require.NoError(t, err)
	a["last_1"] = 99

	b, err := e.Extract(h, at)
	require.NoError(t, err)
	assert.Equal(t, 1.0, b["last_1"])
}

func TestProject(t *testing.T) {
	v := Project(map[string]float64{"a": 1, "b": 2, "extra": 9}, []string{"b", "missing", "a"})
	assert.Equal(t, []float64{2, 0, 1}, v)
}
