// Package config reads service settings from command line flags,
// WAYPOINT_* environment variables and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "WAYPOINT"
)

type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      string
	LogPretty     bool

	OutboxSize int
	CodeLength int

	DatabaseURL  string
	AuthSecret   string
	AuthIssuer   string
	AuthAudience string

	FuelAPIKey      string
	FuelBaseURL     string
	OverpassURL     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	UpstreamTimeout time.Duration

	CORSOrigins []string
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("waypoint", pflag.ContinueOnError)

	fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
	fs.StringP("ws-listen-addr", "w", ":8888", "websocket relay listen address")
	fs.StringP("log-level", "l", "debug", "log level")
	fs.Bool("log-pretty", false, "human readable console logs")

	fs.Int("outbox-size", 64, "per connection outbound message buffer")
	fs.Int("code-length", 6, "length of generated session codes")

	fs.String("database-url", "", "postgres url for reviews storage, in-memory storage if empty")
	fs.String("auth-secret", "", "HS256 secret of identity provider tokens, reviews are disabled if empty")
	fs.String("auth-issuer", "", "required token issuer")
	fs.String("auth-audience", "", "required token audience")

	fs.String("fuel-api-key", "", "fuel price provider api key, fuel prices are disabled if empty")
	fs.String("fuel-base-url", "", "fuel price provider base url")
	fs.String("overpass-url", "", "overpass api interpreter url")
	fs.String("openai-api-key", "", "openai api key, assistant is disabled if empty")
	fs.String("openai-base-url", "", "openai api base url")
	fs.String("openai-model", "", "openai chat model")
	fs.Duration("upstream-timeout", 10*time.Second, "third-party request timeout")

	fs.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins")
	return fs
}

// Load parses args. A missing .env file is not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	return &Config{
		APIListenAddr:   v.GetString("api-listen-addr"),
		WSListenAddr:    v.GetString("ws-listen-addr"),
		LogLevel:        v.GetString("log-level"),
		LogPretty:       v.GetBool("log-pretty"),
		OutboxSize:      v.GetInt("outbox-size"),
		CodeLength:      v.GetInt("code-length"),
		DatabaseURL:     v.GetString("database-url"),
		AuthSecret:      v.GetString("auth-secret"),
		AuthIssuer:      v.GetString("auth-issuer"),
		AuthAudience:    v.GetString("auth-audience"),
		FuelAPIKey:      v.GetString("fuel-api-key"),
		FuelBaseURL:     v.GetString("fuel-base-url"),
		OverpassURL:     v.GetString("overpass-url"),
		OpenAIAPIKey:    v.GetString("openai-api-key"),
		OpenAIBaseURL:   v.GetString("openai-base-url"),
		OpenAIModel:     v.GetString("openai-model"),
		UpstreamTimeout: v.GetDuration("upstream-timeout"),
		CORSOrigins:     splitList(v.GetStringSlice("cors-origins")),
	}, nil
}

// splitList accepts both repeated flags and a comma separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
