package repository

import (
	"context"
	"fmt"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/repository"
	"SpinCast/pkg/clickhouse"
)

// ClickHouseResultArchive appends scored results to a MergeTree table.
type ClickHouseResultArchive struct {
	client   *clickhouse.Client
	database string
	table    string
}

// NewClickHouseResultArchive creates the archive and ensures its table exists.
func NewClickHouseResultArchive(ctx context.Context, client *clickhouse.Client, database, table string) (repository.ResultArchive, error) {
	a := &ClickHouseResultArchive{client: client, database: database, table: table}
	if err := client.InitSchema(ctx, a.schema()...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ClickHouseResultArchive) schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", a.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	scored_at DateTime64(3),
	prediction_id String,
	actual UInt8,
	is_win UInt8,
	winning_groups UInt16,
	total_groups UInt16,
	model_used LowCardinality(String),
	confidence Float64,
	groups String
) ENGINE = MergeTree ORDER BY (scored_at, prediction_id)`, a.database, a.table),
	}
}

func (a *ClickHouseResultArchive) StoreResults(ctx context.Context, results []models.ScoredResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		groups, err := json.MarshalToString(r.Groups)
		if err != nil {
			return fmt.Errorf("encode groups: %w", err)
		}
		win := uint8(0)
		if r.IsWin {
			win = 1
		}
		rows = append(rows, []any{
			r.ScoredAt, r.PredictionID, uint8(r.Actual), win,
			uint16(r.WinningCount), uint16(r.TotalCount), r.ModelUsed, r.Confidence, groups,
		})
	}
	q := fmt.Sprintf("INSERT INTO %s.%s (scored_at, prediction_id, actual, is_win, winning_groups, total_groups, model_used, confidence, groups)", a.database, a.table)
	return a.client.InsertBatch(ctx, q, rows)
}

func (a *ClickHouseResultArchive) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *ClickHouseResultArchive) Close() error {
	return nil // client lifecycle is owned by the app
}
