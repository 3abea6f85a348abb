package features

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/roulette"
	cachesvc "SpinCast/internal/service/cache"
	"SpinCast/pkg/cache"
)

const (
	// MinHistory is the shortest history that yields a feature map.
	MinHistory = 5
	window     = 10
	// absentGap is the gap of an outcome missing from the history.
	absentGap = 50
)

var names []string

func init() {
	names = []string{"last_1", "last_2", "last_3", "red_count_10", "black_count_10", "green_count_10"}
	for _, s := range roulette.MacroSectorNames {
		names = append(names, "sector_"+s+"_count_10")
	}
	names = append(names, "mean_last_10", "std_last_10")
	for k := 0; k < roulette.NumOutcomes; k++ {
		names = append(names, gapName(k))
	}
	names = append(names, "hour", "minute")
}

func gapName(k int) string { return "gap_since_last_" + strconv.Itoa(k) }

// Names returns the frozen feature keys in a stable order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Compute builds the feature map of a most-recent-first history at now.
func Compute(history []int, now time.Time) (map[string]float64, error) {
	if len(history) < MinHistory {
		return nil, fmt.Errorf("extract features from %d outcomes: %w", len(history), models.ErrInsufficientHistory)
	}
	f := make(map[string]float64, len(names))

	for i := 0; i < 3; i++ {
		v := 0.0
		if i < len(history) {
			v = float64(history[i])
		}
		f["last_"+strconv.Itoa(i+1)] = v
	}

	recent := history
	if len(recent) > window {
		recent = recent[:window]
	}
	var red, black, green float64
	sectors := make(map[string]float64, len(roulette.MacroSectorNames))
	var sum float64
	for _, n := range recent {
		switch roulette.Color(n) {
		case roulette.ColorRed:
			red++
		case roulette.ColorBlack:
			black++
		default:
			green++
		}
		sectors[roulette.MacroSector(n)]++
		sum += float64(n)
	}
	f["red_count_10"] = red
	f["black_count_10"] = black
	f["green_count_10"] = green
	for _, s := range roulette.MacroSectorNames {
		f["sector_"+s+"_count_10"] = sectors[s]
	}

	mean := sum / float64(len(recent))
	var ss float64
	for _, n := range recent {
		d := float64(n) - mean
		ss += d * d
	}
	f["mean_last_10"] = mean
	f["std_last_10"] = math.Sqrt(ss / float64(len(recent)))

	var seen [roulette.NumOutcomes]bool
	for k := 0; k < roulette.NumOutcomes; k++ {
		f[gapName(k)] = absentGap
	}
	for i, n := range history {
		if n < 0 || n >= roulette.NumOutcomes || seen[n] {
			continue
		}
		seen[n] = true
		f[gapName(n)] = float64(i)
	}

	f["hour"] = float64(now.Hour())
	f["minute"] = float64(now.Minute())
	return f, nil
}

// Extractor memoizes Compute for repeated calls within the TTL.
type Extractor struct {
	memo *cachesvc.TTLCache
	ttl  time.Duration
}

func NewExtractor(ttl time.Duration) *Extractor {
	return &Extractor{memo: cachesvc.NewTTLCache(cachesvc.WithMaxEntries(256)), ttl: ttl}
}

// Extract returns a fresh map the caller may modify. Gaps read the whole
// history, so the memo key covers all of it.
func (e *Extractor) Extract(history []int, now time.Time) (map[string]float64, error) {
	key := fmt.Sprintf("%s:%d:%02d%02d", cache.HashOutcomes(history, 0), len(history), now.Hour(), now.Minute())
	if v, ok := e.memo.Get(key); ok {
		return clone(v.(map[string]float64)), nil
	}
	f, err := Compute(history, now)
	if err != nil {
		return nil, err
	}
	e.memo.Set(key, f, e.ttl)
	return clone(f), nil
}

// Project orders f by columns. Missing keys read as zero and extras are dropped.
func Project(f map[string]float64, columns []string) []float64 {
	out := make([]float64, len(columns))
	for i, c := range columns {
		out[i] = f[c]
	}
	return out
}

func clone(f map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
