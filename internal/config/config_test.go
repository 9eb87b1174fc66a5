package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("API_BASE_URL", "https://api.example.com")
	t.Setenv("SESSION_SECRET", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", c.Env)
	assert.False(t, c.IsDev())
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, time.Second, c.HTTP.FormInterval)
	assert.Equal(t, 15*time.Second, c.API.Timeout)
	assert.Equal(t, 2, c.API.Retries)
	assert.Equal(t, "portal_session", c.Session.Cookie)
	assert.Equal(t, 168*time.Hour, c.Session.TTL)
	assert.Equal(t, "sqlite", c.Session.Store)
	assert.Equal(t, "data/portal.db", c.Session.SQLitePath)
	assert.Equal(t, 10*time.Minute, c.Query.StaleTime)
	assert.Equal(t, 5*time.Minute, c.Query.GCTime)
	assert.Equal(t, 1500*time.Millisecond, c.Query.RenderBudget)
	assert.Equal(t, "top-center", c.Toast.Position)
	assert.True(t, c.Toast.ReverseOrder)
	assert.Equal(t, 4*time.Second, c.Toast.TTL)
	assert.Equal(t, "light", c.UI.Theme)
	assert.True(t, c.Routes.EnforceRoles)
	assert.Equal(t, "info", c.Log.ConsoleLevel)
	assert.Equal(t, "debug", c.Log.FileLevel)
	assert.Equal(t, "data/logs/portal.log", c.Log.File)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "DEV")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("API_RETRIES", "0")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TOAST_POSITION", "bottom-right")
	t.Setenv("TOAST_REVERSE_ORDER", "false")
	t.Setenv("UI_THEME", "dark")
	t.Setenv("ROUTES_ENFORCE_ROLES", "0")
	t.Setenv("QUERY_STALE_TIME", "0s")

	c, err := Load()
	require.NoError(t, err)

	assert.True(t, c.IsDev())
	assert.Equal(t, 3*time.Second, c.API.Timeout)
	assert.Zero(t, c.API.Retries)
	assert.Equal(t, "redis", c.Session.Store)
	assert.Equal(t, "bottom-right", c.Toast.Position)
	assert.False(t, c.Toast.ReverseOrder)
	assert.Equal(t, "dark", c.UI.Theme)
	assert.False(t, c.Routes.EnforceRoles)
	assert.Zero(t, c.Query.StaleTime)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api url", map[string]string{"API_BASE_URL": ""}},
		{"relative api url", map[string]string{"API_BASE_URL": "/api"}},
		{"short secret", map[string]string{"SESSION_SECRET": "short"}},
		{"unknown env", map[string]string{"ENV": "staging"}},
		{"unknown store", map[string]string{"SESSION_STORE": "memcached"}},
		{"postgres without dsn", map[string]string{"SESSION_STORE": "postgres"}},
		{"redis without url", map[string]string{"SESSION_STORE": "redis"}},
		{"bad duration", map[string]string{"API_TIMEOUT": "soon"}},
		{"zero ttl", map[string]string{"SESSION_TTL": "0s"}},
		{"bad bool", map[string]string{"TOAST_REVERSE_ORDER": "maybe"}},
		{"bad int", map[string]string{"API_RETRIES": "two"}},
		{"bad toast position", map[string]string{"TOAST_POSITION": "middle"}},
		{"bad theme", map[string]string{"UI_THEME": "blue"}},
		{"bad log level", map[string]string{"LOG_CONSOLE_LEVEL": "trace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_PostgresWithDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/portal")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/portal", c.Session.PostgresDSN)
}
