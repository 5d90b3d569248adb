package node

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/sampling"
	"github.com/Pauli-Group/Hegemon-sub002/storage"
)

// Store engines.
const (
	EngineLevelDB = "leveldb"
	EngineBolt    = "bolt"
	EngineMemory  = "memory"
)

var (
	DefaultQuicAddr = "127.0.0.1:40000"
	DefaultRPCAddr  = "127.0.0.1:41200"
	DefaultHTTPAddr = "127.0.0.1:41300"
)

// Duration is a time.Duration that reads and writes as "2s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\" or nanoseconds: %s", string(b))
	}
	*d = Duration(n)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

// Config holds everything a DA node needs at startup.
type Config struct {
	NodeName    string `json:"nodename"`
	DataDir     string `json:"datadir"`
	StoreEngine string `json:"store_engine"`

	QuicAddr string   `json:"quic_addr"`
	RPCAddr  string   `json:"rpc_addr"`
	HTTPAddr string   `json:"http_addr"`
	Peers    []string `json:"peers"`

	ChunkSize   uint32 `json:"chunk_size"`
	SampleCount uint32 `json:"sample_count"`

	HotWindow     uint64   `json:"hot_window"`
	PruneInterval Duration `json:"prune_interval"`
	PruneBatch    int      `json:"prune_batch"`

	SampleTimeout     Duration `json:"sample_timeout"`
	SampleAttempts    int      `json:"sample_attempts"`
	SampleBackoff     Duration `json:"sample_backoff"`
	SampleMaxBackoff  Duration `json:"sample_max_backoff"`
	SampleParallelism int      `json:"sample_parallelism"`
	RandomizeSamples  bool     `json:"randomize_samples"`

	TelemetryAddr string `json:"telemetry_addr"`
	OTLPEndpoint  string `json:"otlp_endpoint"`

	LogLevel     string `json:"log_level"`
	LogJSON      bool   `json:"logjson"`
	DebugModules string `json:"debug_modules"`
}

func DefaultConfig() Config {
	params := da.DefaultParams()
	sc := sampling.DefaultConfig()
	return Config{
		NodeName:          "danode",
		DataDir:           "",
		StoreEngine:       EngineMemory,
		QuicAddr:          DefaultQuicAddr,
		RPCAddr:           DefaultRPCAddr,
		HTTPAddr:          DefaultHTTPAddr,
		ChunkSize:         params.ChunkSize,
		SampleCount:       params.SampleCount,
		HotWindow:         1024,
		PruneInterval:     Duration(30 * time.Second),
		PruneBatch:        storage.DefaultPruneBatch,
		SampleTimeout:     Duration(sc.Timeout),
		SampleAttempts:    sc.MaxAttempts,
		SampleBackoff:     Duration(sc.InitialBackoff),
		SampleMaxBackoff:  Duration(sc.MaxBackoff),
		SampleParallelism: sc.Parallelism,
		LogLevel:          "info",
	}
}

// LoadConfig reads a JSON file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// String returns the config as indented JSON.
func (c *Config) String() string {
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling JSON: %v", err)
	}
	return string(jsonData)
}

func (c *Config) Params() da.Params {
	return da.Params{ChunkSize: c.ChunkSize, SampleCount: c.SampleCount}
}

func (c *Config) SamplingConfig() sampling.Config {
	return sampling.Config{
		SampleCount:    int(c.SampleCount),
		Timeout:        c.SampleTimeout.D(),
		MaxAttempts:    c.SampleAttempts,
		InitialBackoff: c.SampleBackoff.D(),
		MaxBackoff:     c.SampleMaxBackoff.D(),
		Parallelism:    c.SampleParallelism,
	}
}

func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.StoreEngine) {
	case EngineMemory:
	case EngineLevelDB, EngineBolt:
		if c.DataDir == "" {
			return fmt.Errorf("store engine %s needs a datadir", c.StoreEngine)
		}
	default:
		return fmt.Errorf("unknown store engine %q", c.StoreEngine)
	}
	if c.PruneBatch < 0 {
		return fmt.Errorf("prune_batch must not be negative")
	}
	return nil
}
