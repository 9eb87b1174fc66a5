package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
		// FormInterval is the minimum gap between auth form posts of one browser.
		FormInterval time.Duration `validate:"gte=0"`
	}
	API struct {
		BaseURL string        `validate:"required,url"`
		Timeout time.Duration `validate:"gt=0"`
		Retries int           `validate:"gte=0,lte=10"`
	}
	Session struct {
		Secret      string        `validate:"required,min=32"`
		Cookie      string        `validate:"required,printascii"`
		TTL         time.Duration `validate:"gt=0"`
		Store       string        `validate:"required,oneof=sqlite postgres redis"`
		SQLitePath  string        `validate:"required_if=Store sqlite"`
		PostgresDSN string        `validate:"required_if=Store postgres"`
		RedisURL    string        `validate:"required_if=Store redis"`
	}
	Query struct {
		StaleTime    time.Duration `validate:"gte=0"`
		GCTime       time.Duration `validate:"gt=0"`
		RenderBudget time.Duration `validate:"gt=0"`
	}
	Toast struct {
		Position     string `validate:"required,oneof=top-left top-center top-right bottom-left bottom-center bottom-right"`
		ReverseOrder bool
		TTL          time.Duration `validate:"gt=0"`
	}
	UI struct {
		Theme string `validate:"required,oneof=light dark"`
	}
	Routes struct {
		EnforceRoles bool
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

// IsDev reports whether the portal runs in development mode.
func (c Config) IsDev() bool { return c.Env == "dev" }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []error
	)
	c.Env = strings.ToLower(getenv("ENV", "prod"))
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.FormInterval = duration("HTTP_FORM_INTERVAL", time.Second, &errs)

	c.API.BaseURL = os.Getenv("API_BASE_URL")
	c.API.Timeout = duration("API_TIMEOUT", 15*time.Second, &errs)
	c.API.Retries = integer("API_RETRIES", 2, &errs)

	c.Session.Secret = os.Getenv("SESSION_SECRET")
	c.Session.Cookie = getenv("SESSION_COOKIE", "portal_session")
	c.Session.TTL = duration("SESSION_TTL", 168*time.Hour, &errs)
	c.Session.Store = strings.ToLower(getenv("SESSION_STORE", "sqlite"))
	c.Session.SQLitePath = getenv("SQLITE_PATH", "data/portal.db")
	c.Session.PostgresDSN = os.Getenv("POSTGRES_DSN")
	c.Session.RedisURL = os.Getenv("REDIS_URL")

	c.Query.StaleTime = duration("QUERY_STALE_TIME", 10*time.Minute, &errs)
	c.Query.GCTime = duration("QUERY_GC_TIME", 5*time.Minute, &errs)
	c.Query.RenderBudget = duration("QUERY_RENDER_BUDGET", 1500*time.Millisecond, &errs)

	c.Toast.Position = strings.ToLower(getenv("TOAST_POSITION", "top-center"))
	c.Toast.ReverseOrder = boolean("TOAST_REVERSE_ORDER", true, &errs)
	c.Toast.TTL = duration("TOAST_TTL", 4*time.Second, &errs)

	c.UI.Theme = strings.ToLower(getenv("UI_THEME", "light"))
	c.Routes.EnforceRoles = boolean("ROUTES_ENFORCE_ROLES", true, &errs)

	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/portal.log")

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func duration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func integer(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func boolean(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}
