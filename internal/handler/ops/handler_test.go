package ops

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	mid "SpinCast/internal/middleware"
	"SpinCast/internal/repository"
	xhttp "SpinCast/pkg/http"
	"SpinCast/pkg/logger"
)

type stubDriver struct {
	running bool
	latest  *models.Prediction
}

func (d *stubDriver) Running() bool { return d.running }
func (d *stubDriver) LatestPrediction() (*models.Prediction, bool) {
	return d.latest, d.latest != nil
}

type stubPipe struct {
	raws []domrepo.RawOutcome
	err  error
}

func (p *stubPipe) Process(_ context.Context, raw domrepo.RawOutcome) (models.IngestResult, error) {
	p.raws = append(p.raws, raw)
	return models.Accepted(models.OutcomeEvent{Number: 1, SpinID: 1}), p.err
}

type stubJobs struct{ types []string }

func (j *stubJobs) PublishMessage(_ context.Context, t string, _ interface{}) error {
	j.types = append(j.types, t)
	return nil
}

func (j *stubJobs) Depth(context.Context) (int64, int64, int64, error) {
	return int64(len(j.types)), 0, 1, nil
}

type fixture struct {
	mr     *miniredis.Miniredis
	store  *repository.RedisHotStore
	driver *stubDriver
	pipe   *stubPipe
	jobs   *stubJobs
	srv    *xhttp.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{mr: mr, driver: &stubDriver{}, pipe: &stubPipe{}, jobs: &stubJobs{},
		store: repository.NewRedisHotStore(client, repository.DefaultHotStoreLimits())}
	h := NewHandler(f.store,
		repository.NewRedisModelStore(client, "roulette_gbdt"), f.driver, f.pipe, f.jobs, "train_model", logger.NewNop())
	f.srv = xhttp.NewServer(h, logger.NewNop(), xhttp.WithRegistry(prometheus.NewRegistry()))
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", "").Code)

	f.driver.running = true
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "").Code)

	f.mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/healthz", "").Code)
}

func TestLatestPrediction(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/predictions/latest", "").Code)

	f.driver.latest = &models.Prediction{ID: "pred_x", PredictedNumbers: []int{1, 2}}
	rec := f.do(http.MethodGet, "/api/predictions/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prediction_id":"pred_x"`)
}

func TestSubmitOutcome(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/outcomes", `{"number":0,"timestamp":"2024-05-01T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.pipe.raws, 1)
	assert.Equal(t, 0, f.pipe.raws[0].Value)
	assert.Equal(t, "http", f.pipe.raws[0].Source)
	assert.False(t, f.pipe.raws[0].At.IsZero())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/outcomes", `{"number":37}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/outcomes", `{}`).Code)
	assert.Len(t, f.pipe.raws, 1)

	f.pipe.err = mid.ErrThrottled
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/outcomes", `{"number":4}`).Code)
}

func TestStatsModelAndTrain(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_spins":0`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/model", "").Code)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/train", "").Code)
	assert.Equal(t, []string{"train_model"}, f.jobs.types)

	rec = f.do(http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"waiting":1`)
	assert.Contains(t, rec.Body.String(), `"dead":1`)
}

func TestTrends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, n := range []int{7, 3, 7, 12, 7} {
		_, err := f.store.CommitOutcome(ctx, models.OutcomeCommit{
			Number:   n,
			At:       at.Add(time.Duration(i) * time.Second),
			Counters: []string{domrepo.FreqKey("number", n)},
		})
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, "/api/trends?window=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"window":3`)
	assert.Contains(t, body, `"hot":[{"number":7,"count":2},{"number":12,"count":1}]`)

	rec = f.do(http.MethodGet, "/api/trends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"window":5`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/trends?window=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/trends?window=abc", "").Code)

	f.mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/trends", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/healthz", "")
	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spincast_http_requests_total")
}

func TestStreamOutcomes(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Echo())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/outcomes/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	ev := models.OutcomeEvent{Number: 21, SpinID: 8, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if strings.HasPrefix(line, "data: ") {
				assert.Contains(t, line, `"number":21`)
				assert.Contains(t, line, `"spin_id":8`)
				return
			}
		case <-tick.C:
			require.NoError(t, f.store.PublishNewOutcome(context.Background(), ev))
		case <-deadline:
			t.Fatal("no outcome event on the stream")
		}
	}
}
