// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration 支持 "5s" / "24h" 字面量的 YAML 时长
// （yaml.v3 不认识 time.Duration，需要自定义解码）
type Duration time.Duration

// UnmarshalYAML 解析时长字面量
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 转换为标准库时长
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MinIO    MinIOConfig    `yaml:"minio"`
	GenAI    GenAIConfig    `yaml:"genai"`
	Auth     AuthConfig     `yaml:"auth"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
	// SQLitePath 非空时使用 SQLite 而非 PostgreSQL（开发与单测）
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// MinIOConfig 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Enabled 为 false 时跳过对象存储镜像
	Enabled bool `yaml:"enabled"`
}

// GenAIConfig 生成模型配置
type GenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // 留空使用官方端点
	Model   string `yaml:"model"`
	// MaxTokensPerCall 单次调用 token 上限（提示 + 补全）
	MaxTokensPerCall int64 `yaml:"max_tokens_per_call"`
	// PromptCostPer1K / CompletionCostPer1K 计费单价（美元/千 token）
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// PipelineConfig 编排器配置
type PipelineConfig struct {
	// RetryBackoffs 重试间隔，长度即最大重试次数
	RetryBackoffs []Duration `yaml:"retry_backoffs"`
	// ContextTokenCap 装配上下文的 token 上限
	ContextTokenCap int `yaml:"context_token_cap"`
	// DefaultMonthlyTokenLimit 新用户默认月度预算
	DefaultMonthlyTokenLimit int64 `yaml:"default_monthly_token_limit"`
	// CacheTTL 生成缓存保留时长
	CacheTTL Duration `yaml:"cache_ttl"`
}

// Backoffs 返回标准库时长切片
func (p PipelineConfig) Backoffs() []time.Duration {
	out := make([]time.Duration, len(p.RetryBackoffs))
	for i, d := range p.RetryBackoffs {
		out[i] = d.Std()
	}
	return out
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env         Environment
	DatabaseURL string
	RedisURL    string
	APIPort     string
	MinIO       MinIOConfig
	GenAI       GenAIConfig
	Auth        AuthConfig
	Pipeline    PipelineConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	dbPassword := getEnv("DB_PASSWORD", "testforge_dev_password")
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", yamlCfg.MinIO.AccessKey)
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", yamlCfg.MinIO.SecretKey)
	yamlCfg.GenAI.APIKey = getEnv("OPENAI_API_KEY", yamlCfg.GenAI.APIKey)
	yamlCfg.Auth.JWTSecret = getEnv("JWT_SECRET", yamlCfg.Auth.JWTSecret)

	// 构建最终配置
	cfg := &Config{
		Env:         env,
		DatabaseURL: buildDatabaseURL(yamlCfg.Database, dbPassword),
		RedisURL:    buildRedisURL(yamlCfg.Redis),
		APIPort:     yamlCfg.Server.Port,
		MinIO:       yamlCfg.MinIO,
		GenAI:       yamlCfg.GenAI,
		Auth:        yamlCfg.Auth,
		Pipeline:    yamlCfg.Pipeline,
	}

	// 验证并填充默认值
	cfg.Pipeline.validate()
	cfg.GenAI.validate()
	cfg.Auth.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "testforge", Name: "testforge", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "testforge"},
		GenAI:    GenAIConfig{Model: "gpt-4o-mini"},
		Auth:     AuthConfig{TokenTTL: Duration(24 * time.Hour)},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseURL 构建数据库连接字符串
// 指定 sqlite_path 时直接返回文件 DSN，否则拼 PostgreSQL URL
func buildDatabaseURL(db DatabaseConfig, password string) string {
	if db.SQLitePath != "" {
		return db.SQLitePath
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig) string {
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s, Redis: %s}",
		c.Env, maskPassword(c.DatabaseURL), c.RedisURL)
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:]+:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 验证并填充编排器默认值
func (p *PipelineConfig) validate() {
	if len(p.RetryBackoffs) == 0 {
		p.RetryBackoffs = []Duration{
			Duration(5 * time.Second),
			Duration(10 * time.Second),
			Duration(20 * time.Second),
		}
	}
	if p.ContextTokenCap == 0 {
		p.ContextTokenCap = 40000
	}
	if p.DefaultMonthlyTokenLimit == 0 {
		p.DefaultMonthlyTokenLimit = 1000000
	}
	if p.CacheTTL == 0 {
		p.CacheTTL = Duration(24 * time.Hour)
	}
}

// validate 验证并填充模型默认值
func (g *GenAIConfig) validate() {
	if g.Model == "" {
		g.Model = "gpt-4o-mini"
	}
	if g.MaxTokensPerCall == 0 {
		g.MaxTokensPerCall = 16000
	}
	if g.PromptCostPer1K == 0 {
		g.PromptCostPer1K = 0.00015
	}
	if g.CompletionCostPer1K == 0 {
		g.CompletionCostPer1K = 0.0006
	}
}

// validate 验证并填充认证默认值
func (a *AuthConfig) validate() {
	if a.TokenTTL == 0 {
		a.TokenTTL = Duration(24 * time.Hour)
	}
	if a.JWTSecret == "" {
		a.JWTSecret = "dev-secret-change-me"
	}
}
