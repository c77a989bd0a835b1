// Package envconfig reads server and pipeline configuration from LUMEN_*
// environment variables. Every getter re-reads its variable so tests can
// flip values with t.Setenv.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Var returns an environment variable, trimmed of whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Host returns the scheme and host the server binds to, configurable via
// LUMEN_HOST. Default: http://127.0.0.1:7860.
func Host() *url.URL {
	defaultPort := "7860"

	s := Var("LUMEN_HOST")
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the allowed CORS origins, configurable via
// LUMEN_ORIGINS (comma separated). Localhost origins are always included.
func AllowedOrigins() (origins []string) {
	if s := Var("LUMEN_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	origins = append(origins,
		"app://*",
		"file://*",
		"vscode-webview://*",
	)

	return origins
}

// Models returns the model directory, configurable via LUMEN_MODELS.
// Default: $HOME/.lumen/models.
func Models() string {
	if s := Var("LUMEN_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".lumen", "models")
}

// LogLevel returns the log level, configurable via LUMEN_DEBUG.
// 0/false = INFO (default), 1/true = DEBUG, 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("LUMEN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Threads returns the worker count for the CPU backend, configurable via
// LUMEN_THREADS. Zero means one worker per logical CPU.
func Threads() int {
	if s := Var("LUMEN_THREADS"); s != "" {
		if n, err := strconv.Atoi(s); err != nil || n < 0 {
			slog.Warn("invalid thread count, using default", "value", s)
		} else {
			return n
		}
	}

	return 0
}

// Seed returns a fixed seed for the initial noise draw, configurable via
// LUMEN_SEED. Zero (the default) draws a random seed per request.
func Seed() int64 {
	if s := Var("LUMEN_SEED"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err != nil {
			slog.Warn("invalid seed, using random", "value", s)
		} else {
			return n
		}
	}

	return 0
}

// Precision returns the sampling stage precision, configurable via
// LUMEN_PRECISION. One of f16, bf16, f32. Default: f16.
func Precision() string {
	switch s := strings.ToLower(Var("LUMEN_PRECISION")); s {
	case "f16", "bf16", "f32":
		return s
	case "":
	default:
		slog.Warn("invalid precision, using default", "value", s, "default", "f16")
	}

	return "f16"
}

// EnvVar describes one configuration variable for help output.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns all configuration variables with their current values.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"LUMEN_DEBUG":     {"LUMEN_DEBUG", LogLevel(), "Show additional debug information (e.g. LUMEN_DEBUG=1)"},
		"LUMEN_HOST":      {"LUMEN_HOST", Host(), "IP address for the lumen server (default 127.0.0.1:7860)"},
		"LUMEN_MODELS":    {"LUMEN_MODELS", Models(), "The path to the models directory"},
		"LUMEN_ORIGINS":   {"LUMEN_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"LUMEN_THREADS":   {"LUMEN_THREADS", Threads(), "Worker count for the CPU backend (default: all logical CPUs)"},
		"LUMEN_PRECISION": {"LUMEN_PRECISION", Precision(), "Sampling precision: f16, bf16 or f32 (default f16)"},
		"LUMEN_SEED":      {"LUMEN_SEED", Seed(), "Fixed seed for the initial noise draw (default: random)"},
	}
}

// Values returns all configuration values as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}

	return vals
}
