package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	InternalToken   string
	WebSocketOrigin string
	StartingBalance decimal.Decimal
	SweepInterval   time.Duration
	FeedInterval    time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	// Optional: empty DSN runs the service without durable storage.
	c.DBDSN = os.Getenv("DB_DSN")
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, errors.New("invalid JWT_TTL")
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	starting := strings.TrimSpace(os.Getenv("STARTING_BALANCE"))
	if starting == "" {
		starting = "10000"
	}
	sb, err := decimal.NewFromString(starting)
	if err != nil || sb.IsNegative() {
		return c, errors.New("invalid STARTING_BALANCE")
	}
	c.StartingBalance = sb
	c.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 3*time.Second)
	if err != nil {
		return c, err
	}
	c.FeedInterval, err = durationEnv("FEED_INTERVAL", time.Second)
	if err != nil {
		return c, err
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}
