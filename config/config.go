package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverCassandra = "cassandra"
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Admission AdmissionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	URL             string
	StrictMode      bool
	WarmupRequests  int
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver         string
	Seeds          []string
	LocalDC        string
	Keyspace       string
	Table          string
	Username       string
	Password       string
	Consistency    string
	ConnectTimeout time.Duration

	DBURL        string
	MaxOpenConns int
	SQLitePath   string
}

// AdmissionConfig mirrors the overload-protection knobs. Zero thresholds
// disable the corresponding check.
type AdmissionConfig struct {
	ClientRetrySecs   int
	SampleInterval    time.Duration
	MaxDelay          time.Duration
	MaxHeapBytes      uint64
	MaxRSSBytes       uint64
	PropagateErrors   bool
	MaxRequestsPerSec float64
	Burst             int
}

type LogConfig struct {
	Level string
	File  string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	var err error
	cfg := &Config{}

	cfg.Server.Port = strings.TrimSpace(os.Getenv("SERVER_PORT"))
	if cfg.Server.Port == "" {
		return nil, errors.New("SERVER_PORT is not set")
	}
	if _, err := strconv.ParseUint(cfg.Server.Port, 10, 16); err != nil {
		return nil, fmt.Errorf("SERVER_PORT %q is not a valid port", cfg.Server.Port)
	}
	cfg.Server.URL = strings.TrimRight(strings.TrimSpace(os.Getenv("SERVER_URL")), "/")
	if cfg.Server.URL == "" {
		return nil, errors.New("SERVER_URL is not set")
	}
	if cfg.Server.StrictMode, err = getBool("STRICT_MODE", false); err != nil {
		return nil, err
	}
	if cfg.Server.WarmupRequests, err = getInt("WARMUP_REQUESTS", 20); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := loadStore(&cfg.Store); err != nil {
		return nil, err
	}
	if err := loadAdmission(&cfg.Admission); err != nil {
		return nil, err
	}

	cfg.Log.Level = getString("LOG_LEVEL", "info")
	cfg.Log.File = os.Getenv("LOG_FILE")

	return cfg, nil
}

func loadStore(s *StoreConfig) error {
	var err error

	s.Driver = strings.ToLower(getString("STORE_DRIVER", DriverCassandra))
	s.Keyspace = getString("STORE_KEYSPACE", "roadshow_demo")
	s.Table = getString("STORE_TABLE", "shop")
	if !identifierPattern.MatchString(s.Keyspace) {
		return fmt.Errorf("STORE_KEYSPACE %q is not a valid identifier", s.Keyspace)
	}
	if !identifierPattern.MatchString(s.Table) {
		return fmt.Errorf("STORE_TABLE %q is not a valid identifier", s.Table)
	}
	if s.ConnectTimeout, err = getDuration("STORE_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return err
	}
	if s.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return err
	}

	switch s.Driver {
	case DriverCassandra:
		s.Seeds = splitCSV(os.Getenv("STORE_SEEDS"))
		if len(s.Seeds) == 0 {
			return errors.New("STORE_SEEDS is not set")
		}
		s.LocalDC = strings.TrimSpace(os.Getenv("STORE_LOCAL_DC"))
		if s.LocalDC == "" {
			return errors.New("STORE_LOCAL_DC is not set")
		}
		s.Username = os.Getenv("STORE_USERNAME")
		s.Password = os.Getenv("STORE_PASSWORD")
		s.Consistency = strings.TrimSpace(os.Getenv("STORE_CONSISTENCY"))
	case DriverPostgres:
		s.DBURL = os.Getenv("DB_URL")
		if s.DBURL == "" {
			return errors.New("DB_URL is not set")
		}
	case DriverSQLite:
		s.SQLitePath = getString("SQLITE_PATH", "gateway.db")
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", s.Driver)
	}
	return nil
}

func loadAdmission(a *AdmissionConfig) error {
	var err error
	if a.ClientRetrySecs, err = getInt("ADMISSION_CLIENT_RETRY_SECS", 2); err != nil {
		return err
	}
	if a.SampleInterval, err = getDuration("ADMISSION_SAMPLE_INTERVAL", 5*time.Millisecond); err != nil {
		return err
	}
	if a.MaxDelay, err = getDuration("ADMISSION_MAX_DELAY", 42*time.Millisecond); err != nil {
		return err
	}
	if a.MaxHeapBytes, err = getUint("ADMISSION_MAX_HEAP_BYTES", 0); err != nil {
		return err
	}
	if a.MaxRSSBytes, err = getUint("ADMISSION_MAX_RSS_BYTES", 0); err != nil {
		return err
	}
	if a.PropagateErrors, err = getBool("ADMISSION_PROPAGATE_ERRORS", false); err != nil {
		return err
	}
	if a.MaxRequestsPerSec, err = getFloat("ADMISSION_MAX_RPS", 0); err != nil {
		return err
	}
	if a.Burst, err = getInt("ADMISSION_BURST", 50); err != nil {
		return err
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", key, v)
	}
	return n, nil
}

func getUint(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative number", key, v)
	}
	return f, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
