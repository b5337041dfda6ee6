package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Subscriptions SubscriptionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	subscriptions, err := loadSubscriptionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Store: loadStoreConfig(), Subscriptions: subscriptions}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "4000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":4000" 或 "127.0.0.1:4000"。
		return ServerConfig{Addr: port, ShutdownTimeout: shutdown}, nil
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: shutdown}, nil
}

// StoreConfig 描述消息存储的连接信息。
type StoreConfig struct {
	// URI 连接串，其 scheme 决定存储后端
	URI      string
	Database string
}

// loadStoreConfig 读取 MONGO_URI，未设置时回退到 DATABASE_URL。
func loadStoreConfig() StoreConfig {
	uri := strings.TrimSpace(os.Getenv("MONGO_URI"))
	if uri == "" {
		uri = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	return StoreConfig{
		URI:      uri,
		Database: strings.TrimSpace(os.Getenv("DATABASE_NAME")),
	}
}

// SubscriptionConfig 描述订阅推送相关配置。
type SubscriptionConfig struct {
	BufferSize int
	KeepAlive  time.Duration
}

func loadSubscriptionConfig() (SubscriptionConfig, error) {
	buffer := 64
	if override, err := parseOptionalIntEnv("SUBSCRIPTION_BUFFER"); err != nil {
		return SubscriptionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	keepAlive, err := parseDurationEnv("WS_KEEPALIVE", 12*time.Second)
	if err != nil {
		return SubscriptionConfig{}, err
	}
	if keepAlive <= 0 {
		return SubscriptionConfig{}, fmt.Errorf("invalid WS_KEEPALIVE value %q: must be positive", keepAlive)
	}

	return SubscriptionConfig{BufferSize: buffer, KeepAlive: keepAlive}, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
