package config

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// LoadEnv loads .env files from the working directory without overriding
// variables the process already has.
func LoadEnv(logger *zap.Logger) []string {
	var loaded []string
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.Warn("Failed to load env file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}
