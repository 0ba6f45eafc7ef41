package config

import (
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
	Environment string `yaml:"environment" default:"dev" validate:"required,oneof=dev staging prod"`
	Instrument  struct {
		Symbol  string  `yaml:"symbol" validate:"required"`
		LotStep float64 `yaml:"lot_step" default:"0.0001" validate:"gt=0"`
	} `yaml:"instrument"`
	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collect    bool   `yaml:"collect"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		StatusPush      time.Duration `yaml:"status_push" default:"1s" validate:"gt=0"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
		CORS            bool          `yaml:"cors" default:"true"`
		SignalsCacheTTL time.Duration `yaml:"signals_cache_ttl" default:"2s"`
		ControlTimeout  time.Duration `yaml:"control_timeout" default:"5s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Topics       struct {
			Book      string `yaml:"book" default:"chronos.book"`
			Trades    string `yaml:"trades" default:"chronos.trades"`
			Fills     string `yaml:"fills" default:"chronos.fills"`
			Intents   string `yaml:"intents" default:"chronos.intents"`
			Decisions string `yaml:"decisions" default:"chronos.decisions"`
			Logs      string `yaml:"logs" default:"chronos.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID         string        `yaml:"group_id" default:"chronos-core"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
			MaxWait         time.Duration `yaml:"max_wait" default:"250ms"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic        string        `yaml:"dlq_topic" default:"chronos.dlq"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"chronos"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
		KafkaIngest      bool          `yaml:"kafka_ingest"`
		SchemaTimeout    time.Duration `yaml:"schema_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled        bool          `yaml:"enabled"`
		Addr           string        `yaml:"addr" default:"localhost:6379"`
		Password       string        `yaml:"password"`
		DB             int           `yaml:"db"`
		KeyPrefix      string        `yaml:"key_prefix" default:"chronos"`
		StatusTTL      time.Duration `yaml:"status_ttl" default:"10s"`
		LockTTL        time.Duration `yaml:"lock_ttl" default:"30s"`
		MemoryCapacity int           `yaml:"memory_capacity" default:"256"`
	} `yaml:"redis"`
	Gateway struct {
		Mode          string        `yaml:"mode" default:"paper" validate:"oneof=paper kafka"`
		MaxAttempts   int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
		BackoffMin    time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax    time.Duration `yaml:"backoff_max" default:"2s"`
		SubmitTimeout time.Duration `yaml:"submit_timeout" default:"5s" validate:"gt=0"`
		SlippageBps   float64       `yaml:"slippage_bps" default:"5" validate:"gte=0"`
	} `yaml:"gateway"`
	Funding struct {
		Enabled  bool          `yaml:"enabled"`
		BaseURL  string        `yaml:"base_url" default:"https://fapi.binance.com"`
		Symbol   string        `yaml:"symbol" default:"BTCUSDT"`
		Interval time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
		Timeout  time.Duration `yaml:"timeout" default:"5s"`
		MaxAge   time.Duration `yaml:"max_age" default:"15m"`
		Attempts int           `yaml:"attempts" default:"2" validate:"gte=1"`
	} `yaml:"funding"`
	Sentiment struct {
		MaxAge    time.Duration `yaml:"max_age" default:"30m"`
		RateLimit float64       `yaml:"rate_limit" default:"5"`
		Burst     int           `yaml:"burst" default:"10"`
	} `yaml:"sentiment"`
	Microstructure struct {
		DepthLevels      int           `yaml:"depth_levels" default:"10" validate:"gte=1"`
		OFIWindow        int           `yaml:"ofi_window" default:"20" validate:"gte=1"`
		VPINBucketVolume float64       `yaml:"vpin_bucket_volume" validate:"gt=0"`
		VPINBuckets      int           `yaml:"vpin_buckets" default:"50" validate:"gte=1"`
		AmihudInterval   time.Duration `yaml:"amihud_interval" default:"1m" validate:"gt=0"`
		AmihudWindow     int           `yaml:"amihud_window" default:"30" validate:"gte=1"`
		AmihudScale      float64       `yaml:"amihud_scale" validate:"gt=0"`
	} `yaml:"microstructure"`
	Volatility struct {
		StopMultiplier  float64       `yaml:"stop_multiplier" default:"2.0" validate:"gt=0"`
		RealizedWindow  int           `yaml:"realized_window" default:"60" validate:"gte=2"`
		MinReturns      int           `yaml:"min_returns" default:"10" validate:"gte=1"`
		RefitInterval   time.Duration `yaml:"refit_interval" default:"30m" validate:"gt=0"`
		RefitWindow     int           `yaml:"refit_window" default:"500" validate:"gte=50"`
		RefitTimeout    time.Duration `yaml:"refit_timeout" default:"20s" validate:"gt=0"`
		MinRefitSamples int           `yaml:"min_refit_samples" default:"100"`
		MaxEvaluations  int           `yaml:"max_evaluations" default:"4000"`
	} `yaml:"volatility"`
	Regime struct {
		RefitInterval   time.Duration `yaml:"refit_interval" default:"1h" validate:"gt=0"`
		RefitWindow     int           `yaml:"refit_window" default:"1000" validate:"gte=50"`
		RefitTimeout    time.Duration `yaml:"refit_timeout" default:"30s" validate:"gt=0"`
		MinRefitSamples int           `yaml:"min_refit_samples" default:"200"`
		MaxIterations   int           `yaml:"max_iterations" default:"200" validate:"gte=1"`
		Tolerance       float64       `yaml:"tolerance" default:"0.000001" validate:"gt=0"`
	} `yaml:"regime"`
	Fusion struct {
		VPINGate        float64   `yaml:"vpin_gate" default:"0.8" validate:"gt=0,lte=1"`
		MomentumWindows []int     `yaml:"momentum_windows" default:"[60,240,1440,10080]" validate:"min=1,dive,gt=0"`
		MomentumWeights []float64 `yaml:"momentum_weights" default:"[0.4,0.3,0.2,0.1]" validate:"min=1,dive,gte=0"`
		MomentumScale   float64   `yaml:"momentum_scale" default:"10" validate:"gt=0"`
	} `yaml:"fusion"`
	Risk struct {
		Equity                float64       `yaml:"equity" default:"50000000" validate:"gt=0"`
		MaxPositionFraction   float64       `yaml:"max_position_fraction" default:"0.2" validate:"gt=0,lte=1"`
		MinCashReserve        float64       `yaml:"min_cash_reserve" default:"0.2" validate:"gte=0,lt=1"`
		KellyDivisor          float64       `yaml:"kelly_divisor" default:"4" validate:"gte=1"`
		KellyMinTrades        int           `yaml:"kelly_min_trades" default:"20" validate:"gte=1"`
		KellyHistory          int           `yaml:"kelly_history" default:"100" validate:"gte=1"`
		BootstrapFraction     float64       `yaml:"bootstrap_fraction" default:"0.02" validate:"gte=0,lte=1"`
		MaxConsecutiveLosses  int           `yaml:"max_consecutive_losses" default:"3" validate:"gte=1"`
		Cooldown              time.Duration `yaml:"cooldown" default:"30m" validate:"gt=0"`
		DailyCVaRLimit        float64       `yaml:"daily_cvar_limit" default:"-0.03" validate:"lt=0"`
		DayBoundary           string        `yaml:"day_boundary" default:"00:00"`
		Timezone              string        `yaml:"timezone" default:"UTC"`
		PartialExitFraction   float64       `yaml:"partial_exit_fraction" default:"0.5" validate:"gt=0,lte=1"`
		ForceCloseOnEmergency bool          `yaml:"force_close_on_emergency" default:"true"`
		RegimeMultipliers     struct {
			Bull     float64 `yaml:"bull" default:"1.0" validate:"gte=0,lte=1"`
			Sideways float64 `yaml:"sideways" default:"0.5" validate:"gte=0,lte=1"`
			Bear     float64 `yaml:"bear" default:"0.25" validate:"gte=0,lte=1"`
		} `yaml:"regime_multipliers"`
	} `yaml:"risk"`
	Loop struct {
		BarInterval   time.Duration `yaml:"bar_interval" default:"1m" validate:"gt=0"`
		TickInterval  time.Duration `yaml:"tick_interval" default:"1s" validate:"gt=0"`
		QueueSize     int           `yaml:"queue_size" default:"4096" validate:"gte=1"`
		ReturnHistory int           `yaml:"return_history" default:"12000" validate:"gte=1"`
		MaxRPS        int           `yaml:"max_rps"`
	} `yaml:"loop"`
	WarmStart struct {
		Enabled   bool          `yaml:"enabled"`
		Candles   int           `yaml:"candles" default:"1500" validate:"gte=1"`
		Timeframe string        `yaml:"timeframe" default:"1m"`
		Timeout   time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"warm_start"`
	Journal struct {
		Enabled       bool          `yaml:"enabled"`
		Backend       string        `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse kafka both"`
		BatchSize     int           `yaml:"batch_size" default:"200" validate:"gte=1"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"2s" validate:"gt=0"`
		Buffer        int           `yaml:"buffer" default:"4096" validate:"gte=1"`
	} `yaml:"journal"`
}

// Load reads a YAML configuration file on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CHRONOS_SYMBOL"); v != "" {
		c.Instrument.Symbol = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("GATEWAY_MODE"); v != "" {
		c.Gateway.Mode = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Validate checks tag constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if len(c.Fusion.MomentumWindows) != len(c.Fusion.MomentumWeights) {
		return fmt.Errorf("fusion.momentum_weights must have %d entries, got %d",
			len(c.Fusion.MomentumWindows), len(c.Fusion.MomentumWeights))
	}
	if _, err := c.DayBoundary(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk.timezone: %w", err)
	}
	if c.Gateway.Mode == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when gateway.mode is 'kafka'")
	}
	if c.Journal.Enabled && c.Journal.Backend != "kafka" && !c.ClickHouse.Enabled {
		return fmt.Errorf("journal.backend '%s' requires clickhouse.enabled", c.Journal.Backend)
	}
	if c.ClickHouse.KafkaIngest && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("clickhouse.kafka_ingest requires kafka.brokers")
	}
	if c.WarmStart.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("warm_start requires clickhouse.enabled")
	}
	return nil
}

// DayBoundary returns the trading-day rollover as an offset from local midnight.
func (c *Config) DayBoundary() (time.Duration, error) {
	t, err := time.Parse("15:04", c.Risk.DayBoundary)
	if err != nil {
		return 0, fmt.Errorf("risk.day_boundary must be HH:MM, got '%s'", c.Risk.DayBoundary)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
