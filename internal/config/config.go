package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegis-sign/akmods/internal/app/akmods"
)

// DefaultPath 为 akmodsctl 默认读取的配置文件。
const DefaultPath = "/etc/akmods/akmodsctl.yaml"

const envPrefix = "AKMODS_"

// Config 为 akmodsctl 的运行配置。特权 helper 不读取此配置。
type Config struct {
	KeyDir      string        `yaml:"keyDir"`
	HelperPath  string        `yaml:"helperPath"`
	PkexecPath  string        `yaml:"pkexecPath"`
	MokutilPath string        `yaml:"mokutilPath"`
	ProbeTTL    time.Duration `yaml:"probeTTL"`
	WaitDelay   time.Duration `yaml:"waitDelay"`
	Worker      Worker        `yaml:"worker"`
	HTTPAddr    string        `yaml:"httpAddr"`
	GRPCAddr    string        `yaml:"grpcAddr"`
}

// Worker 控制 worker 队列。
type Worker struct {
	MaxQueue        int     `yaml:"maxQueue"`
	ReloadRateLimit float64 `yaml:"reloadRateLimit"`
	ReloadBurst     int     `yaml:"reloadBurst"`
}

// Load 依次应用配置文件、AKMODS_* 环境变量与默认值。path 为空时跳过文件；
// optional 为 true 时文件不存在不视为错误。
func Load(path string, optional bool) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := readString("KEY_DIR"); v != "" {
		c.KeyDir = v
	}
	if v := readString("HELPER_PATH"); v != "" {
		c.HelperPath = v
	}
	if v := readString("PKEXEC_PATH"); v != "" {
		c.PkexecPath = v
	}
	if v := readString("MOKUTIL_PATH"); v != "" {
		c.MokutilPath = v
	}
	if d := readDuration("PROBE_TTL"); d > 0 {
		c.ProbeTTL = d
	}
	if d := readDuration("WAIT_DELAY"); d > 0 {
		c.WaitDelay = d
	}
	if v := readInt("WORKER_MAX_QUEUE"); v > 0 {
		c.Worker.MaxQueue = v
	}
	if v := readFloat("RELOAD_RATE_LIMIT"); v >= 0 {
		c.Worker.ReloadRateLimit = v
	}
	if v := readInt("RELOAD_BURST"); v > 0 {
		c.Worker.ReloadBurst = v
	}
	if v := readString("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := readString("GRPC_ADDR"); v != "" {
		c.GRPCAddr = v
	}
}

// Normalize 填充默认值。
func (c Config) Normalize() Config {
	if c.KeyDir == "" {
		c.KeyDir = akmods.DefaultKeyDir
	}
	if c.HelperPath == "" {
		c.HelperPath = akmods.DefaultHelperPath
	}
	if c.PkexecPath == "" {
		c.PkexecPath = akmods.DefaultPkexecPath
	}
	if c.MokutilPath == "" {
		c.MokutilPath = akmods.DefaultMokutilPath
	}
	if c.ProbeTTL <= 0 {
		c.ProbeTTL = akmods.DefaultProbeTTL
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = 500 * time.Millisecond
	}
	if c.Worker.MaxQueue <= 0 {
		c.Worker.MaxQueue = 64
	}
	if c.Worker.ReloadBurst <= 0 {
		c.Worker.ReloadBurst = 1
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "127.0.0.1:8087"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = "127.0.0.1:9097"
	}
	return c
}

// Validate 校验路径约束：helper 与密钥必须是绝对路径。
func (c Config) Validate() error {
	if !filepath.IsAbs(c.HelperPath) {
		return fmt.Errorf("helperPath must be absolute: %q", c.HelperPath)
	}
	if !filepath.IsAbs(c.KeyDir) {
		return fmt.Errorf("keyDir must be absolute: %q", c.KeyDir)
	}
	if c.Worker.ReloadRateLimit < 0 {
		return fmt.Errorf("worker.reloadRateLimit must not be negative")
	}
	return nil
}

func readString(key string) string {
	return os.Getenv(envPrefix + key)
}

func readInt(key string) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return 0
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return v
}

func readDuration(key string) time.Duration {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func readFloat(key string) float64 {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return -1
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return -1
	}
	return v
}
