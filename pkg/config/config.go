package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output  string `yaml:"output" default:"stdout" validate:"required"`
		Collect struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"spincast.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
	} `yaml:"server"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost" validate:"required"`
		Port         int           `yaml:"port" default:"6379" validate:"gte=1,lte=65535"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db" validate:"gte=0"`
		PoolSize     int           `yaml:"pool_size" default:"10" validate:"gte=1"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	} `yaml:"redis"`
	Store struct {
		HistoryMaxLen            int           `yaml:"history_max_len" default:"1000" validate:"gte=1"`
		DetailedHistoryMaxLen    int           `yaml:"detailed_history_max_len" default:"2000" validate:"gte=1"`
		FeatureBufferMaxLen      int           `yaml:"feature_buffer_max_len" default:"5000" validate:"gte=1"`
		PendingPredictionsMaxLen int           `yaml:"pending_predictions_max_len" default:"50" validate:"gte=1"`
		ScoredLogMaxLen          int           `yaml:"scored_log_max_len" default:"500" validate:"gte=1"`
		GapHistoryMaxLen         int           `yaml:"gap_history_max_len" default:"100" validate:"gte=1"`
		NewDataFlagTTL           time.Duration `yaml:"new_data_flag_ttl" default:"300s"`
		ResultTTL                time.Duration `yaml:"result_ttl" default:"168h"`
		OpTimeout                time.Duration `yaml:"store_op_timeout" default:"10s"`
	} `yaml:"store"`
	Predictor struct {
		CacheTTL       time.Duration `yaml:"cache_ttl" default:"30s"`
		CacheMaxEntries int          `yaml:"cache_max_entries" default:"50" validate:"gte=1"`
		FeatureMemoTTL time.Duration `yaml:"feature_memo_ttl" default:"30s"`
		TopK           int           `yaml:"top_k" default:"6" validate:"gte=1,lte=37"`
		GroupSizes     []int         `yaml:"group_sizes" default:"[4,8,14,15,20]" validate:"dive,gte=1,lte=37"`
		ModelWeight    float64       `yaml:"model_weight" default:"0.8" validate:"gte=0,lte=1"`
		FallbackWeight float64       `yaml:"fallback_weight" default:"0.2" validate:"gte=0,lte=1"`
	} `yaml:"predictor"`
	Training struct {
		MinSamples        int           `yaml:"retrain_min_samples" default:"30" validate:"gte=2"`
		Interval          time.Duration `yaml:"retrain_interval" default:"6h"`
		AfterNPredictions int           `yaml:"retrain_after_n_predictions" default:"15" validate:"gte=1"`
		Estimators        int           `yaml:"model_estimators" default:"100" validate:"gte=1"`
		MaxDepth          int           `yaml:"model_max_depth" default:"6" validate:"gte=1,lte=16"`
		LearningRate      float64       `yaml:"model_learning_rate" default:"0.1" validate:"gt=0,lte=1"`
		Subsample         float64       `yaml:"model_subsample" default:"0.8" validate:"gt=0,lte=1"`
		ColsampleByTree   float64       `yaml:"model_colsample_bytree" default:"0.8" validate:"gt=0,lte=1"`
		Seed              int64         `yaml:"seed" default:"42"`
		ModelName         string        `yaml:"model_name" default:"roulette_gbdt" validate:"required"`
		LockTTL           time.Duration `yaml:"lock_ttl" default:"10m"`
		BackoffBase       time.Duration `yaml:"backoff_base" default:"1s"`
		BackoffMax        time.Duration `yaml:"backoff_max" default:"30s"`
	} `yaml:"training"`
	Driver struct {
		PollInterval   time.Duration `yaml:"driver_poll_interval" default:"5s"`
		MaxFailures    int           `yaml:"max_consecutive_failures" default:"5" validate:"gte=1"`
		BackoffBase    time.Duration `yaml:"backoff_base" default:"1s"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"30s"`
		PendingMaxAge  time.Duration `yaml:"pending_max_age" default:"24h"`
		SubmitQueue    int           `yaml:"submit_queue" default:"64" validate:"gte=1"`
	} `yaml:"driver"`
	Ingest struct {
		MaxRPS     int `yaml:"max_rps" default:"20" validate:"gte=0"`
		Burst      int `yaml:"burst" default:"5" validate:"gte=1"`
		BufferSize int `yaml:"buffer_size" default:"256" validate:"gte=1"`
	} `yaml:"ingest"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		KeyPrefix  string        `yaml:"key_prefix" default:"spincast:queue"`
	} `yaml:"queue"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers" validate:"required_if=Enabled true"`
		OutcomesTopic    string   `yaml:"outcomes_topic" default:"roulette.outcomes"`
		PredictionsTopic string   `yaml:"predictions_topic" default:"roulette.predictions"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"spincast"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost" validate:"required_if=Enabled true"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"spincast"`
		Table            string        `yaml:"table" default:"scored_results"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url" validate:"required_if=Enabled true"`
		Table          string        `yaml:"table"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"feed"`
}

var validate = validator.New()

// Default returns a config holding only default values.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A missing file falls back to defaults.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		c = Default()
	}

	if v := os.Getenv("SPINCAST_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
		c.Feed.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if w := c.Predictor.ModelWeight + c.Predictor.FallbackWeight; w <= 0 {
		return fmt.Errorf("predictor weights must not both be zero")
	}
	return nil
}
