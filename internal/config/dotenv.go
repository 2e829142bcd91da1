package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DotEnvLoader wraps Loader with .env file support, mirroring
// pkg/config.DotEnvLoader.
type DotEnvLoader struct {
	*Loader
	envFiles []string
}

// NewDotEnvLoader builds a loader that overlays the given .env files (or
// just ".env" in the current directory) onto the real process environment
// before delegating to Loader.Load.
func NewDotEnvLoader(envFiles ...string) *DotEnvLoader {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	return &DotEnvLoader{Loader: NewLoader(), envFiles: envFiles}
}

// Load overlays any existing .env files onto the environment, then loads.
func (d *DotEnvLoader) Load() (*Config, error) {
	var existing []string
	for _, f := range d.envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Overload(existing...); err != nil {
			return nil, &EnvFileError{FilePath: existing[0], Err: err}
		}
	}
	return d.Loader.Load()
}

// EnvFileError wraps a .env file load failure.
type EnvFileError struct {
	FilePath string
	Err      error
}

func (e *EnvFileError) Error() string {
	return "config: failed to load .env file '" + e.FilePath + "': " + e.Err.Error()
}

func (e *EnvFileError) Unwrap() error { return e.Err }
