package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// LoadConfig reads configuration from the environment (and an optional
// .env file in the working directory) under the TELECLINIC prefix.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("teleclinic")
	v.AutomaticEnv()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// a missing .env is fine, a malformed one is not
			if !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetDefault("addr", "localhost:8000")
	v.SetDefault("dsn", "host=localhost user=postgres password=postgres dbname=teleclinic sslmode=disable")

	return NewConfig(
		v.GetString("addr"),
		v.GetString("dsn"),
		v.GetString("signing_key"),
		strings.Split(v.GetString("allowed_origins"), ","),
	)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	var origins []string
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: origins,
	}, nil
}
