package env

import (
	"os"
	"strconv"
	"strings"

	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/shared/paths"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	DefaultServerPort    = 3854
	DefaultHubBufferSize = 64
	DefaultKafkaTopic    = "ring-events"
)

// EnvValue はサーバー起動時に読み込む設定値。
type EnvValue struct {
	ServerPort       int
	DebugMode        bool
	DBDriver         string
	DBPath           string
	DatabaseURL      *string
	HubBufferSize    int
	FeedCacheBackend string
	AdminToken       *string
	PublicBaseURL    string
	ImageDir         string
	KafkaBrokers     []string
	KafkaTopic       string
}

// Value は LoadEnv 後の設定値。
var Value = defaults()

func defaults() EnvValue {
	return EnvValue{
		ServerPort:       DefaultServerPort,
		DBDriver:         "sqlite3",
		DBPath:           paths.GetDBPath(),
		HubBufferSize:    DefaultHubBufferSize,
		FeedCacheBackend: "memory",
		PublicBaseURL:    "http://localhost:3854",
		ImageDir:         paths.GetImageDir(),
		KafkaTopic:       DefaultKafkaTopic,
	}
}

// LoadEnv loads .env (when present) and then the process environment into Value.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}
	Value = parse(os.Getenv)
}

func parse(getenv func(string) string) EnvValue {
	v := defaults()

	if port, ok := intValue(getenv, "SERVER_PORT"); ok && port > 0 {
		v.ServerPort = port
	}
	v.DebugMode = boolValue(getenv, "DEBUG_MODE")

	if driver := strings.ToLower(strings.TrimSpace(getenv("DB_DRIVER"))); driver != "" {
		switch driver {
		case "sqlite3", "sqlite", "postgres":
			v.DBDriver = driver
		default:
			logger.Warn("Unknown DB_DRIVER, falling back to sqlite3", zap.String("db_driver", driver))
		}
	}
	if path := strings.TrimSpace(getenv("DB_PATH")); path != "" {
		v.DBPath = path
	}
	v.DatabaseURL = optionalString(getenv, "DATABASE_URL")

	if size, ok := intValue(getenv, "HUB_BUFFER_SIZE"); ok && size > 0 {
		v.HubBufferSize = size
	}
	if backend := strings.ToLower(strings.TrimSpace(getenv("FEED_CACHE_BACKEND"))); backend == "db" || backend == "memory" {
		v.FeedCacheBackend = backend
	}

	v.AdminToken = optionalString(getenv, "ADMIN_TOKEN")
	if base := strings.TrimSpace(getenv("PUBLIC_BASE_URL")); base != "" {
		v.PublicBaseURL = strings.TrimRight(base, "/")
	}
	if dir := strings.TrimSpace(getenv("IMAGE_DIR")); dir != "" {
		v.ImageDir = dir
	}

	if brokers := strings.TrimSpace(getenv("KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				v.KafkaBrokers = append(v.KafkaBrokers, b)
			}
		}
	}
	if topic := strings.TrimSpace(getenv("KAFKA_TOPIC")); topic != "" {
		v.KafkaTopic = topic
	}

	return v
}

func optionalString(getenv func(string) string, key string) *string {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return nil
	}
	return &value
}

func intValue(getenv func(string) string, key string) (int, bool) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("Invalid integer environment value", zap.String("key", key), zap.String("value", raw))
		return 0, false
	}
	return n, true
}

func boolValue(getenv func(string) string, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	return err == nil && b
}
