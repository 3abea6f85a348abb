package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxTxRetries = 16

// HotStoreLimits bounds the hot store lists.
type HotStoreLimits struct {
	HistoryMaxLen         int
	DetailedHistoryMaxLen int
	FeatureBufferMaxLen   int
	PendingMaxLen         int
	ScoredLogMaxLen       int
	GapHistoryMaxLen      int
	NewDataFlagTTL        time.Duration
	ResultTTL             time.Duration
}

// DefaultHotStoreLimits matches the documented key layout.
func DefaultHotStoreLimits() HotStoreLimits {
	return HotStoreLimits{
		HistoryMaxLen:         1000,
		DetailedHistoryMaxLen: 2000,
		FeatureBufferMaxLen:   5000,
		PendingMaxLen:         50,
		ScoredLogMaxLen:       500,
		GapHistoryMaxLen:      100,
		NewDataFlagTTL:        300 * time.Second,
		ResultTTL:             7 * 24 * time.Hour,
	}
}

// RedisHotStore implements repository.HotStore on a Redis keyspace.
type RedisHotStore struct {
	client redis.UniversalClient
	limits HotStoreLimits
}

// NewRedisHotStore creates the hot store.
func NewRedisHotStore(client redis.UniversalClient, limits HotStoreLimits) *RedisHotStore {
	return &RedisHotStore{client: client, limits: limits}
}

var _ repository.HotStore = (*RedisHotStore)(nil)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

func (s *RedisHotStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisHotStore) SetLatest(ctx context.Context, n int) error {
	if err := s.client.Set(ctx, repository.KeyLatest, n, 0).Err(); err != nil {
		return unavailable("set latest", err)
	}
	return nil
}

func (s *RedisHotStore) GetLatest(ctx context.Context) (int, bool, error) {
	return s.getInt(ctx, repository.KeyLatest, "get latest")
}

func (s *RedisHotStore) PushHistory(ctx context.Context, n int) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, repository.KeyHistory, n)
		pipe.LTrim(ctx, repository.KeyHistory, 0, int64(s.limits.HistoryMaxLen-1))
		return nil
	})
	if err != nil {
		return unavailable("push history", err)
	}
	return nil
}

// GetHistory returns up to limit outcomes, most recent first. A non-positive
// limit returns the whole list.
func (s *RedisHotStore) GetHistory(ctx context.Context, limit int) ([]int, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	vals, err := s.client.LRange(ctx, repository.KeyHistory, 0, stop).Result()
	if err != nil {
		return nil, unavailable("get history", err)
	}
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisHotStore) IncrCounter(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, unavailable("incr "+key, err)
	}
	return v, nil
}

func (s *RedisHotStore) GetCounter(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get "+key, err)
	}
	return v, nil
}

func (s *RedisHotStore) SetGap(ctx context.Context, n, value int) error {
	if err := s.client.Set(ctx, repository.GapKey(n), value, 0).Err(); err != nil {
		return unavailable("set gap", err)
	}
	return nil
}

func (s *RedisHotStore) GetGap(ctx context.Context, n int) (int, bool, error) {
	return s.getInt(ctx, repository.GapKey(n), "get gap")
}

func (s *RedisHotStore) PushFeatureBuffer(ctx context.Context, e models.FeatureEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode feature entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, repository.KeyFeatureBuffer, b)
		pipe.LTrim(ctx, repository.KeyFeatureBuffer, 0, int64(s.limits.FeatureBufferMaxLen-1))
		return nil
	})
	if err != nil {
		return unavailable("push feature buffer", err)
	}
	return nil
}

// RangeFeatureBuffer decodes entries in [start, end]. Undecodable entries are skipped.
func (s *RedisHotStore) RangeFeatureBuffer(ctx context.Context, start, end int64) ([]models.FeatureEntry, error) {
	vals, err := s.client.LRange(ctx, repository.KeyFeatureBuffer, start, end).Result()
	if err != nil {
		return nil, unavailable("range feature buffer", err)
	}
	out := make([]models.FeatureEntry, 0, len(vals))
	for _, v := range vals {
		var e models.FeatureEntry
		if err := json.UnmarshalFromString(v, &e); err != nil || len(e.Features) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisHotStore) FeatureBufferLen(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, repository.KeyFeatureBuffer).Result()
	if err != nil {
		return 0, unavailable("feature buffer len", err)
	}
	return n, nil
}

// EnqueuePending writes the prediction hash and pushes its id onto the
// pending list. The oldest ids fall off once the list is full.
func (s *RedisHotStore) EnqueuePending(ctx context.Context, p *models.Prediction) error {
	fields, err := encodePrediction(p)
	if err != nil {
		return err
	}
	key := repository.PredictionKey(p.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.limits.ResultTTL)
		pipe.LPush(ctx, repository.KeyPending, p.ID)
		pipe.LTrim(ctx, repository.KeyPending, 0, int64(s.limits.PendingMaxLen-1))
		return nil
	})
	if err != nil {
		return unavailable("enqueue pending", err)
	}
	return nil
}

func (s *RedisHotStore) ListPending(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, repository.KeyPending, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	return ids, nil
}

// FetchPrediction returns ErrPredictionNotFound for a missing hash and
// ErrMalformedRecord for one that cannot be decoded.
func (s *RedisHotStore) FetchPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	fields, err := s.client.HGetAll(ctx, repository.PredictionKey(id)).Result()
	if err != nil {
		return nil, unavailable("fetch prediction", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("fetch prediction %s: %w", id, models.ErrPredictionNotFound)
	}
	p, err := decodePrediction(fields)
	if err != nil {
		return nil, fmt.Errorf("fetch prediction %s: %w: %v", id, models.ErrMalformedRecord, err)
	}
	return p, nil
}

func (s *RedisHotStore) MarkScored(ctx context.Context, id string) error {
	if err := s.client.HSet(ctx, repository.PredictionKey(id), "status", models.StatusScored).Err(); err != nil {
		return unavailable("mark scored", err)
	}
	return nil
}

func (s *RedisHotStore) RemovePending(ctx context.Context, id string) error {
	if err := s.client.LRem(ctx, repository.KeyPending, 0, id).Err(); err != nil {
		return unavailable("remove pending", err)
	}
	return nil
}

func (s *RedisHotStore) PublishNewOutcome(ctx context.Context, ev models.OutcomeEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.client.Publish(ctx, repository.ChannelEvents, b).Err(); err != nil {
		return unavailable("publish outcome", err)
	}
	return nil
}

// SubscribeNewOutcomes streams events until ctx ends or the returned close
// function is called.
func (s *RedisHotStore) SubscribeNewOutcomes(ctx context.Context) (<-chan models.OutcomeEvent, func() error) {
	ps := s.client.Subscribe(ctx, repository.ChannelEvents)
	out := make(chan models.OutcomeEvent, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev models.OutcomeEvent
				if err := json.UnmarshalFromString(m.Payload, &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, ps.Close
}

// CommitOutcome applies every write of one accepted outcome in a single
// MULTI/EXEC guarded by WATCH on the keys it reads.
func (s *RedisHotStore) CommitOutcome(ctx context.Context, c models.OutcomeCommit) (models.CommitResult, error) {
	n := c.Number
	lastPosKey := repository.LastPositionKey(n)
	var res models.CommitResult

	txf := func(tx *redis.Tx) error {
		res = models.CommitResult{}

		latest, hasLatest, err := txGetInt(ctx, tx, repository.KeyLatest)
		if err != nil {
			return err
		}
		if hasLatest && latest == n {
			res.Duplicate = true
			return s.matchReplay(ctx, tx, c, &res)
		}
		total, _, err := txGetInt(ctx, tx, repository.KeyTotalSpins)
		if err != nil {
			return err
		}
		lastPos, hasLastPos, err := txGetInt(ctx, tx, lastPosKey)
		if err != nil {
			return err
		}

		spin := int64(total) + 1
		res.Event = models.OutcomeEvent{Number: n, Timestamp: c.At, SpinID: spin}
		if hasLastPos {
			gap := int(spin) - lastPos
			if gap > 0 && gap <= s.limits.HistoryMaxLen {
				res.Gap, res.HasGap = gap, true
			}
		}

		detailed := models.DetailedEntry{
			Attributes: c.Attributes,
			SpinID:     spin,
			Timestamp:  util.FormatISO(c.At),
		}
		if res.HasGap {
			g := res.Gap
			detailed.Gap = &g
		}
		detailedJSON, err := json.Marshal(detailed)
		if err != nil {
			return fmt.Errorf("encode detailed entry: %w", err)
		}
		flagJSON, err := json.Marshal(models.NewDataFlag{
			Number:          n,
			SpinID:          spin,
			Timestamp:       util.FormatISO(c.At),
			NeedsPrediction: true,
		})
		if err != nil {
			return fmt.Errorf("encode new data flag: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, repository.KeyLatest, n, 0)
			pipe.LPush(ctx, repository.KeyHistory, n)
			pipe.LTrim(ctx, repository.KeyHistory, 0, int64(s.limits.HistoryMaxLen-1))
			pipe.LPush(ctx, repository.KeyHistoryDetailed, detailedJSON)
			pipe.LTrim(ctx, repository.KeyHistoryDetailed, 0, int64(s.limits.DetailedHistoryMaxLen-1))
			pipe.Incr(ctx, repository.KeyTotalSpins)
			for _, key := range c.Counters {
				pipe.Incr(ctx, key)
			}
			if res.HasGap {
				pipe.Set(ctx, repository.GapKey(n), res.Gap, 0)
				pipe.LPush(ctx, repository.GapHistoryKey(n), res.Gap)
				pipe.LTrim(ctx, repository.GapHistoryKey(n), 0, int64(s.limits.GapHistoryMaxLen-1))
			}
			pipe.Set(ctx, lastPosKey, spin, 0)
			pipe.Set(ctx, repository.KeyNewDataFlag, flagJSON, s.limits.NewDataFlagTTL)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, repository.KeyLatest, repository.KeyTotalSpins, lastPosKey); err != nil {
		return models.CommitResult{}, unavailable("commit outcome", err)
	}
	return res, nil
}

// matchReplay marks res as a replay when the head of the detailed history
// is this exact outcome, so a retry after a lost reply carries on with the
// event that was committed the first time.
func (s *RedisHotStore) matchReplay(ctx context.Context, tx *redis.Tx, c models.OutcomeCommit, res *models.CommitResult) error {
	if c.At.IsZero() {
		return nil
	}
	raw, err := tx.LIndex(ctx, repository.KeyHistoryDetailed, 0).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var head models.DetailedEntry
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return nil
	}
	if head.Number != c.Number || head.Timestamp != util.FormatISO(c.At) {
		return nil
	}
	res.Replayed = true
	res.Event = models.OutcomeEvent{Number: c.Number, Timestamp: c.At, SpinID: head.SpinID}
	if head.Gap != nil {
		res.Gap, res.HasGap = *head.Gap, true
	}
	return nil
}

// CommitScore writes the scored result, bumps every counter, flips the
// prediction to scored and moves its id from pending to the scored log.
func (s *RedisHotStore) CommitScore(ctx context.Context, c models.ScoreCommit) (bool, error) {
	r := c.Result
	predKey := repository.PredictionKey(r.PredictionID)
	resKey := repository.ResultKey(r.PredictionID)

	groupsJSON, err := json.Marshal(r.Groups)
	if err != nil {
		return false, fmt.Errorf("encode groups: %w", err)
	}
	logJSON, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}

	committed := false
	txf := func(tx *redis.Tx) error {
		committed = false
		status, err := tx.HGet(ctx, predKey, "status").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if status == models.StatusScored {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, resKey, map[string]interface{}{
				"prediction_id":  r.PredictionID,
				"actual":         r.Actual,
				"groups":         string(groupsJSON),
				"winning_groups": r.WinningCount,
				"total_groups":   r.TotalCount,
				"is_win":         strconv.FormatBool(r.IsWin),
				"model_used":     r.ModelUsed,
				"confidence":     strconv.FormatFloat(r.Confidence, 'f', -1, 64),
				"scored_at":      util.FormatISO(r.ScoredAt),
			})
			pipe.Expire(ctx, resKey, s.limits.ResultTTL)
			for _, key := range c.Counters {
				pipe.Incr(ctx, key)
			}
			pipe.HSet(ctx, predKey, "status", models.StatusScored)
			pipe.LRem(ctx, repository.KeyPending, 0, r.PredictionID)
			pipe.LPush(ctx, repository.KeyScoredLog, logJSON)
			pipe.LTrim(ctx, repository.KeyScoredLog, 0, int64(s.limits.ScoredLogMaxLen-1))
			return nil
		})
		if err == nil {
			committed = true
		}
		return err
	}

	if err := s.watch(ctx, txf, predKey); err != nil {
		return false, unavailable("commit score", err)
	}
	return committed, nil
}

// GetStrategyState returns the inactive state when none is stored.
func (s *RedisHotStore) GetStrategyState(ctx context.Context, name string) (models.StrategyState, error) {
	raw, err := s.client.Get(ctx, repository.StrategyStateKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return models.StrategyState{Phase: models.PhaseInactive}, nil
	}
	if err != nil {
		return models.StrategyState{}, unavailable("get strategy state", err)
	}
	var st models.StrategyState
	if err := json.UnmarshalFromString(raw, &st); err != nil || st.Phase == "" {
		return models.StrategyState{Phase: models.PhaseInactive}, nil
	}
	return st, nil
}

func (s *RedisHotStore) SetStrategyState(ctx context.Context, name string, st models.StrategyState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode strategy state: %w", err)
	}
	if err := s.client.Set(ctx, repository.StrategyStateKey(name), b, 0).Err(); err != nil {
		return unavailable("set strategy state", err)
	}
	return nil
}

func (s *RedisHotStore) ScoredSinceTraining(ctx context.Context) (int64, error) {
	return s.GetCounter(ctx, repository.KeyScoredSinceTrain)
}

func (s *RedisHotStore) LastTrainedAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, repository.KeyLastTrainedAt).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("last trained at", err)
	}
	t, ok := util.ParseTime(raw)
	return t, ok, nil
}

// MarkTrained records a successful training run and resets the counter.
func (s *RedisHotStore) MarkTrained(ctx context.Context, at time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, repository.KeyLastTrainedAt, util.FormatISO(at), 0)
		pipe.Set(ctx, repository.KeyScoredSinceTrain, 0, 0)
		return nil
	})
	if err != nil {
		return unavailable("mark trained", err)
	}
	return nil
}

func (s *RedisHotStore) Stats(ctx context.Context) (models.Stats, error) {
	st := models.Stats{GroupTotals: map[string]int64{}, GroupWins: map[string]int64{}}
	vals, err := s.client.MGet(ctx, repository.KeyTotalSpins, repository.KeyTotalEvaluated, repository.KeyWins, repository.KeyLosses).Result()
	if err != nil {
		return st, unavailable("stats", err)
	}
	ints := make([]int64, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			ints[i] = util.ParseInt64Default(str, 0)
		}
	}
	st.TotalSpins, st.TotalEvaluated, st.Wins, st.Losses = ints[0], ints[1], ints[2], ints[3]

	if st.GroupTotals, st.GroupWins, err = s.hitCounters(ctx, "stats:group_*", "stats:"); err != nil {
		return st, err
	}

	pending, err := s.client.LLen(ctx, repository.KeyPending).Result()
	if err != nil {
		return st, unavailable("stats pending", err)
	}
	st.Pending = int(pending)
	return st, nil
}

// ClearAll deletes every hot store namespace. Model keys survive.
func (s *RedisHotStore) ClearAll(ctx context.Context) error {
	for _, pattern := range repository.HotStoreNamespaces {
		keys, err := s.scan(ctx, pattern)
		if err != nil {
			return unavailable("clear scan", err)
		}
		for start := 0; start < len(keys); start += 500 {
			end := start + 500
			if end > len(keys) {
				end = len(keys)
			}
			if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
				return unavailable("clear delete", err)
			}
		}
	}
	return nil
}

func (s *RedisHotStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisHotStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *RedisHotStore) getInt(ctx context.Context, key, op string) (int, bool, error) {
	v, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable(op, err)
	}
	return v, true, nil
}

func txGetInt(ctx context.Context, tx *redis.Tx, key string) (int, bool, error) {
	v, err := tx.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func encodePrediction(p *models.Prediction) (map[string]interface{}, error) {
	probs, err := json.Marshal(p.Probabilities)
	if err != nil {
		return nil, fmt.Errorf("encode probabilities: %w", err)
	}
	nums, err := json.Marshal(p.PredictedNumbers)
	if err != nil {
		return nil, fmt.Errorf("encode predicted numbers: %w", err)
	}
	groups, err := json.Marshal(p.Groups)
	if err != nil {
		return nil, fmt.Errorf("encode groups: %w", err)
	}
	last := ""
	if p.LastNumber != nil {
		last = strconv.Itoa(*p.LastNumber)
	}
	status := p.Status
	if status == "" {
		status = models.StatusPending
	}
	return map[string]interface{}{
		"prediction_id":     p.ID,
		"timestamp":         util.FormatISO(p.Timestamp),
		"last_number":       last,
		"probabilities":     string(probs),
		"predicted_numbers": string(nums),
		"prediction_groups": string(groups),
		"prediction_type":   string(p.Type),
		"confidence":        strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		"reasoning":         p.Reasoning,
		"model_used":        p.ModelUsed,
		"status":            status,
	}, nil
}

func decodePrediction(f map[string]string) (*models.Prediction, error) {
	p := &models.Prediction{
		ID:        f["prediction_id"],
		Type:      models.RequestKind(f["prediction_type"]),
		Reasoning: f["reasoning"],
		ModelUsed: f["model_used"],
		Status:    f["status"],
	}
	if p.ID == "" {
		return nil, errors.New("missing prediction_id")
	}
	ts, ok := util.ParseTime(f["timestamp"])
	if !ok {
		return nil, fmt.Errorf("bad timestamp %q", f["timestamp"])
	}
	p.Timestamp = ts
	if v := f["last_number"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad last_number %q", v)
		}
		p.LastNumber = &n
	}
	if err := json.UnmarshalFromString(f["prediction_groups"], &p.Groups); err != nil {
		return nil, fmt.Errorf("bad prediction_groups: %w", err)
	}
	if v := f["probabilities"]; v != "" {
		if err := json.UnmarshalFromString(v, &p.Probabilities); err != nil {
			return nil, fmt.Errorf("bad probabilities: %w", err)
		}
	}
	if v := f["predicted_numbers"]; v != "" {
		if err := json.UnmarshalFromString(v, &p.PredictedNumbers); err != nil {
			return nil, fmt.Errorf("bad predicted_numbers: %w", err)
		}
	}
	if v := f["confidence"]; v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("bad confidence %q", v)
		}
		p.Confidence = c
	}
	return p, nil
}
