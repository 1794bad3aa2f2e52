package env

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var Env map[string]string

// GetEnv looks up key in the loaded .env values, then the process environment.
func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt returns def when the key is unset or not an integer.
func GetEnvInt(key string, def int) int {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBool parses a boolean variable, falling back to def.
func GetEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// GetEnvDuration parses Go duration strings ("90s", "1h"). Invalid or non-positive values yield def.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SetupEnvFile loads the first .env file found. Missing files are tolerated
// when the process already runs with a populated environment.
func SetupEnvFile() error {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/almanac to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return nil
		}
	}
	Env = map[string]string{}
	return err
}

// IsDev reports whether APP_ENV is dev.
func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
