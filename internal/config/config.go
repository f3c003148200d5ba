package config

import (
	"os"
	"strconv"
	"time"
)

// Config hkanban-data（ESL 补货同步服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	ESL  ESLConfig  `yaml:"esl"`
	Sync SyncConfig `yaml:"sync"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// ESLConfig ESL 厂家云服务配置
type ESLConfig struct {
	HttpAddress  string `yaml:"http_address"`  // 厂家云服务地址
	Username     string `yaml:"username"`      // 平台账号
	PasswordHash string `yaml:"password_hash"` // 密码（MD5，厂家要求）
	StoreID      string `yaml:"store_id"`      // 默认门店 ID（可选，空则登录后解析）
	Timeout      time.Duration
}

// SyncConfig 同步引擎配置
type SyncConfig struct {
	DedupWindow    time.Duration // 按钮事件去重窗口（默认 60s，可调）
	MaxRetries     int           // 队列最大重试次数
	BackoffBase    time.Duration // 重试退避基数（指数翻倍）
	BackoffCap     time.Duration // 退避上限
	RetentionDays  int           // 终态队列项保留天数
	TokenSafety    time.Duration // token 过期安全边际
	LoginThrottle  time.Duration // 两次登录尝试的最小间隔
	WakeBeforePoll bool          // 拉取事件前是否先唤醒休眠价签
}

// MQTTConfig MQTT 配置（用于厂家按钮事件推送触发，默认禁用）
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`    // 如 "tcp://localhost:1883"
	ClientID string `yaml:"client_id"` // 客户端 ID
	Username string `yaml:"username"`  // 用户名（可选）
	Password string `yaml:"password"`  // 密码（可选）
	Topic    string `yaml:"topic"`     // 订阅的主题（厂家分配）
	TenantID string `yaml:"tenant_id"` // 推送事件归属的租户
	QoS      byte
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hkanban")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// ESL 厂家配置
	cfg.ESL.HttpAddress = getEnv("ESL_HTTP_ADDRESS", "https://esl.zkong.com")
	cfg.ESL.Username = getEnv("ESL_USERNAME", "")
	cfg.ESL.PasswordHash = getEnv("ESL_PASSWORD_HASH", "")
	cfg.ESL.StoreID = getEnv("ESL_STORE_ID", "")
	cfg.ESL.Timeout = time.Duration(parseInt(getEnv("ESL_TIMEOUT_SECONDS", "10"), 10)) * time.Second

	// 同步引擎配置
	cfg.Sync.DedupWindow = time.Duration(parseInt(getEnv("EVENT_DEDUP_WINDOW_SECONDS", "60"), 60)) * time.Second
	cfg.Sync.MaxRetries = parseInt(getEnv("SYNC_MAX_RETRIES", "3"), 3)
	cfg.Sync.BackoffBase = time.Duration(parseInt(getEnv("SYNC_BACKOFF_BASE_SECONDS", "30"), 30)) * time.Second
	cfg.Sync.BackoffCap = time.Duration(parseInt(getEnv("SYNC_BACKOFF_CAP_SECONDS", "1800"), 1800)) * time.Second
	cfg.Sync.RetentionDays = parseInt(getEnv("SYNC_RETENTION_DAYS", "30"), 30)
	cfg.Sync.TokenSafety = time.Duration(parseInt(getEnv("TOKEN_SAFETY_SECONDS", "60"), 60)) * time.Second
	cfg.Sync.LoginThrottle = time.Duration(parseInt(getEnv("LOGIN_THROTTLE_SECONDS", "5"), 5)) * time.Second
	cfg.Sync.WakeBeforePoll = getEnv("WAKE_BEFORE_POLL", "true") == "true"

	// MQTT 配置（用于推送触发，默认禁用，轮询为主路径）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hkanban-data-esl")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "esl-button-events")
	cfg.MQTT.TenantID = getEnv("MQTT_TENANT_ID", "")
	cfg.MQTT.QoS = 1

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
