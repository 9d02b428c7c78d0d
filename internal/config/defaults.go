// =============================================================================
// 📦 TBCP 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Security:   DefaultSecurityConfig(),
		Budget:     DefaultBudgetConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Deployment: DefaultDeploymentConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:            8080,
		MetricsPort:         9091,
		AllowedOrigins:      []string{},
		ReadTimeout:         15 * time.Second,
		WriteTimeout:        15 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		MaxRequestBodyBytes: 1 << 20, // 1 MiB
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "tbcp",
		Password:        "",
		Name:            "tbcp.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}
}

// DefaultSecurityConfig 返回默认安全配置
// 注意：signing_key 与 encryption_key 均没有安全的默认值，必须由
// 部署方通过环境变量或配置文件显式提供；Validate 会拒绝空值。
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		SigningKey:    "",
		EncryptionKey: "",
		BcryptCost:    12,
	}
}

// DefaultBudgetConfig 返回默认预算配置
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		LeaseTTLSeconds:      900,
		SweepIntervalSeconds: 60,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "tbcpd",
		SampleRate:   0.1,
	}
}

// DefaultDeploymentConfig 返回默认部署配置
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		Mode:           "development",
		EnableDemoSeed: false,
	}
}
