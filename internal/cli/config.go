package cli

import (
	"os"
	"time"
)

// Config holds CLI configuration
type Config struct {
	Addr       string
	Admin      string
	Password   string
	CAFile     string
	ServerName string
	Insecure   bool
	Timeout    time.Duration
	Output     string
}

// DefaultConfig returns a Config with values from the environment.
func DefaultConfig() *Config {
	return &Config{
		Addr:       getEnvOrDefault("PORTUNUS_ADMIN_ADDR", "localhost:5001"),
		Admin:      getEnvOrDefault("PORTUNUS_ADMIN_USER", "admin"),
		Password:   os.Getenv("PORTUNUS_ADMIN_PASSWORD"),
		CAFile:     os.Getenv("PORTUNUS_ADMIN_CA_FILE"),
		ServerName: os.Getenv("PORTUNUS_ADMIN_SERVER_NAME"),
		Insecure:   os.Getenv("PORTUNUS_ADMIN_INSECURE") == "true",
		Timeout:    10 * time.Second,
		Output:     "text",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
