package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/internal/domain/roulette"
	"SpinCast/pkg/util"
)

const (
	trendSize    = 5
	wheelSectors = (roulette.NumOutcomes + 4) / 5
)

// Trends reads the newest window outcomes together with the lifetime
// counters. A window of zero or less covers the whole stored history.
func (s *RedisHotStore) Trends(ctx context.Context, window int) (models.Trends, error) {
	history, err := s.GetHistory(ctx, window)
	if err != nil {
		return models.Trends{}, err
	}
	tr := models.Trends{Window: len(history), Recent: recentAttributes(history)}
	tr.Hot, tr.Cold = hotAndCold(history, trendSize)

	numbers, err := s.counterRange(ctx, roulette.NumOutcomes, func(i int) string { return repository.FreqKey("number", i) })
	if err != nil {
		return tr, err
	}
	tr.Numbers = nonZero(numbers)
	tr.Terminals = make(map[int]int64, 10)
	for t := 0; t < 10; t++ {
		tr.Terminals[t] = 0
	}
	for n, v := range numbers {
		tr.Terminals[n%10] += v
	}

	ranges := []struct {
		dst  *map[int]int64
		size int
		key  func(int) string
	}{
		{&tr.Sectors, wheelSectors, repository.SectorKey},
		{&tr.Hours, 24, repository.HourKey},
		{&tr.Minutes, 60, repository.MinuteKey},
		{&tr.Weekdays, 7, repository.WeekdayKey},
	}
	for _, r := range ranges {
		vals, err := s.counterRange(ctx, r.size, r.key)
		if err != nil {
			return tr, err
		}
		*r.dst = nonZero(vals)
	}

	if tr.MeanGaps, err = s.meanGaps(ctx); err != nil {
		return tr, err
	}

	totals, wins, err := s.hitCounters(ctx, "stats:group_*", "stats:")
	if err != nil {
		return tr, err
	}
	tr.Groups = hitRates(totals, wins)
	totals, wins, err = s.hitCounters(ctx, "stats:strategy:*", "stats:strategy:")
	if err != nil {
		return tr, err
	}
	tr.Strategies = hitRates(totals, wins)
	return tr, nil
}

// counterRange reads key(0) .. key(size-1) in one round trip.
func (s *RedisHotStore) counterRange(ctx context.Context, size int, key func(int) string) ([]int64, error) {
	keys := make([]string, size)
	for i := range keys {
		keys[i] = key(i)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("counter range", err)
	}
	out := make([]int64, size)
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = util.ParseInt64Default(str, 0)
		}
	}
	return out, nil
}

func (s *RedisHotStore) meanGaps(ctx context.Context) (map[int]float64, error) {
	cmds := make([]*redis.StringSliceCmd, roulette.NumOutcomes)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for n := range cmds {
			cmds[n] = pipe.LRange(ctx, repository.GapHistoryKey(n), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("gap history", err)
	}
	out := make(map[int]float64)
	for n, cmd := range cmds {
		var sum, count int
		for _, v := range cmd.Val() {
			g, err := strconv.Atoi(v)
			if err != nil {
				continue
			}
			sum += g
			count++
		}
		if count > 0 {
			out[n] = float64(sum) / float64(count)
		}
	}
	return out, nil
}

// hitCounters collects the :total and :wins counters under pattern, keyed
// by the name between prefix and the suffix.
func (s *RedisHotStore) hitCounters(ctx context.Context, pattern, prefix string) (totals, wins map[string]int64, err error) {
	totals, wins = map[string]int64{}, map[string]int64{}
	keys, err := s.scan(ctx, pattern)
	if err != nil {
		return totals, wins, unavailable("scan "+pattern, err)
	}
	if len(keys) == 0 {
		return totals, wins, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return totals, wins, unavailable("hit counters", err)
	}
	for i, key := range keys {
		str, ok := vals[i].(string)
		if !ok {
			continue
		}
		v := util.ParseInt64Default(str, 0)
		name := strings.TrimPrefix(key, prefix)
		switch {
		case strings.HasSuffix(name, ":total"):
			totals[strings.TrimSuffix(name, ":total")] = v
		case strings.HasSuffix(name, ":wins"):
			wins[strings.TrimSuffix(name, ":wins")] = v
		}
	}
	return totals, wins, nil
}

// hitRates orders by rate, best first, then by name.
func hitRates(totals, wins map[string]int64) []models.HitRate {
	out := make([]models.HitRate, 0, len(totals))
	for name, total := range totals {
		r := models.HitRate{Name: name, Hits: wins[name], Total: total}
		if total > 0 {
			r.Rate = float64(r.Hits) / float64(total)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Rate != out[b].Rate {
			return out[a].Rate > out[b].Rate
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// hotAndCold returns the k most and least frequent numbers in history.
// Ties go to the lower number.
func hotAndCold(history []int, k int) (hot, cold []models.NumberCount) {
	if len(history) == 0 {
		return nil, nil
	}
	counts := make([]models.NumberCount, roulette.NumOutcomes)
	for n := range counts {
		counts[n].Number = n
	}
	for _, n := range history {
		if n >= 0 && n < roulette.NumOutcomes {
			counts[n].Count++
		}
	}

	sort.Slice(counts, func(a, b int) bool {
		if counts[a].Count != counts[b].Count {
			return counts[a].Count > counts[b].Count
		}
		return counts[a].Number < counts[b].Number
	})
	for _, c := range counts {
		if len(hot) == k || c.Count == 0 {
			break
		}
		hot = append(hot, c)
	}

	sort.Slice(counts, func(a, b int) bool {
		if counts[a].Count != counts[b].Count {
			return counts[a].Count < counts[b].Count
		}
		return counts[a].Number < counts[b].Number
	})
	cold = append(cold, counts[:k]...)
	return hot, cold
}

func recentAttributes(history []int) map[string]map[string]int64 {
	out := map[string]map[string]int64{
		"color": {}, "dozen": {}, "column": {}, "parity": {}, "range": {}, "terminal": {}, "sector": {},
	}
	for _, n := range history {
		if roulette.Validate(n) != nil {
			continue
		}
		a := roulette.Enrich(n)
		out["color"][a.Color]++
		out["dozen"][fmt.Sprint(a.Dozen)]++
		out["column"][fmt.Sprint(a.Column)]++
		out["parity"][a.Parity]++
		out["range"][a.Range]++
		out["terminal"][fmt.Sprint(n%10)]++
		out["sector"][fmt.Sprint(a.Sector)]++
	}
	return out
}

func nonZero(vals []int64) map[int]int64 {
	out := make(map[int]int64)
	for i, v := range vals {
		if v != 0 {
			out[i] = v
		}
	}
	return out
}
