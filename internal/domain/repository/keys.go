package repository

import (
	"fmt"
	"time"
)

// Hot store key layout.
const (
	KeyLatest          = "roulette:latest"
	KeyHistory         = "roulette:history"
	KeyHistoryDetailed = "roulette:history_detailed"
	KeyTotalSpins      = "roulette:total_spins"
	KeyFeatureBuffer   = "roulette:ml_features"
	KeyNewDataFlag     = "roulette:new_data_flag"
	ChannelEvents      = "roulette:events"

	KeyPending   = "ai:pending_predictions"
	KeyScoredLog = "ai:scored_predictions"

	KeyWins           = "stats:wins"
	KeyLosses         = "stats:losses"
	KeyTotalEvaluated = "stats:total_evaluated"

	KeyScoredSinceTrain = "training:scored_since_train"
	KeyLastTrainedAt    = "training:last_trained_at"

	KeyModelMetadata = "ml:models:metadata"
)

// HotStoreNamespaces are wiped by ClearAll. Model keys are not among them.
var HotStoreNamespaces = []string{"roulette:*", "ai:*", "prediction:*", "result:*", "stats:*", "strategy:*", "training:*"}

func FreqKey(kind string, v any) string { return fmt.Sprintf("roulette:freq:%s:%v", kind, v) }

func GapKey(n int) string { return fmt.Sprintf("roulette:gap:%d", n) }

func GapHistoryKey(n int) string { return fmt.Sprintf("roulette:gap_history:%d", n) }

func LastPositionKey(n int) string { return fmt.Sprintf("roulette:last_position:%d", n) }

func SectorKey(k int) string { return fmt.Sprintf("roulette:sectors:sector_%d", k) }

func PredictionKey(id string) string { return "prediction:" + id }

func ResultKey(id string) string { return "result:" + id }

func GroupTotalKey(group string) string { return "stats:" + group + ":total" }

func GroupWinsKey(group string) string { return "stats:" + group + ":wins" }

func StrategyTotalKey(name string) string { return "stats:strategy:" + name + ":total" }

func StrategyWinsKey(name string) string { return "stats:strategy:" + name + ":wins" }

func StrategyStateKey(name string) string { return "strategy:" + name + ":state" }

func ModelKey(name string) string { return "ml:models:" + name }

func HourKey(h int) string { return fmt.Sprintf("roulette:time:hour:%d", h) }

func MinuteKey(m int) string { return fmt.Sprintf("roulette:time:minute:%d", m) }

func WeekdayKey(d int) string { return fmt.Sprintf("roulette:time:day_of_week:%d", d) }

// TimeKeys returns the hour, minute and weekday counters for t.
func TimeKeys(t time.Time) []string {
	return []string{HourKey(t.Hour()), MinuteKey(t.Minute()), WeekdayKey(int(t.Weekday()))}
}
