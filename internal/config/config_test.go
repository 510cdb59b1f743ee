package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("test-signing-key"))

	tests := []struct {
		name        string
		addr        string
		dsn         string
		secret      string
		origins     []string
		expectError bool
	}{
		{
			name:    "valid",
			addr:    "localhost:8000",
			dsn:     "host=localhost dbname=teleclinic",
			secret:  secret,
			origins: []string{"http://localhost:3000"},
		},
		{
			name:        "empty address",
			dsn:         "host=localhost dbname=teleclinic",
			secret:      secret,
			expectError: true,
		},
		{
			name:        "empty dsn",
			addr:        "localhost:8000",
			secret:      secret,
			expectError: true,
		},
		{
			name:        "empty secret",
			addr:        "localhost:8000",
			dsn:         "host=localhost dbname=teleclinic",
			expectError: true,
		},
		{
			name:        "secret not base64",
			addr:        "localhost:8000",
			dsn:         "host=localhost dbname=teleclinic",
			secret:      "not base64!!!",
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.dsn, tc.secret, tc.origins)
			if tc.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.addr, cfg.ServerAddr)
			assert.Equal(t, []byte("test-signing-key"), cfg.SigningKey)
			assert.Equal(t, tc.origins, cfg.AllowedOrigins)
		})
	}
}

func TestNewConfigTrimsOrigins(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("k"))

	cfg, err := NewConfig("localhost:8000", "host=localhost", secret,
		[]string{" http://localhost:3000 ", "", "https://app.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.AllowedOrigins)
}
