package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Can    CanConfig    `mapstructure:"can"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Modbus ModbusConfig `mapstructure:"modbus"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CanConfig describes where to find bus descriptions and the transport
// keys passed through to the CAN device plug uninterpreted.
type CanConfig struct {
	DbcSearchPaths []string `mapstructure:"dbc_search_paths"`
	DefaultBitRate int      `mapstructure:"default_bit_rate"`
	FD             bool     `mapstructure:"fd"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
}

type ModbusConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	DefaultRetries int           `mapstructure:"default_retries"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Transport      string        `mapstructure:"transport"` // "tcp" or "rtu"
	TCPListenAddr  string        `mapstructure:"tcp_listen_addr"`
	RTUSerialPort  string        `mapstructure:"rtu_serial_port"`
	RTUBaudRate    int           `mapstructure:"rtu_baud_rate"`
	StationAddress uint8         `mapstructure:"station_address"`
}

type AuditConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("can.default_bit_rate", 500000)
	viper.SetDefault("can.fd", false)

	viper.SetDefault("modbus.default_timeout", "1s")
	viper.SetDefault("modbus.default_retries", 2)
	viper.SetDefault("modbus.poll_interval", "100ms")
	viper.SetDefault("modbus.transport", "tcp")
	viper.SetDefault("modbus.tcp_listen_addr", ":502")
	viper.SetDefault("modbus.rtu_baud_rate", 19200)
	viper.SetDefault("modbus.station_address", 1)

	// Auth Defaults
	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.access_token_ttl", "60m")
	viper.SetDefault("auth.refresh_token_ttl", "168h")
	viper.SetDefault("auth.max_failed_login_attempts", 5)
	viper.SetDefault("auth.account_lock_duration", "15m")

	viper.SetDefault("audit.max_connections", 10)

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CBM") // Environment Variables mit Prefix CBM_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *AuditConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
