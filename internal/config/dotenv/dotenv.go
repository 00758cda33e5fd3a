package dotenv

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Load reads environment variables from the usual .env locations and
// returns the files it loaded.
//
// Notes:
//   - This is intended for local runs of tenantctl.
//   - In a cluster, env vars should be injected by the runtime.
//   - It never overrides variables already present in the process environment.
//
// Locations (loaded in order, if present):
//  1. $ENV_FILE (if set)
//  2. <cwd>/.env
//  3. $XDG_CONFIG_HOME/tenant-platform/.env (or ~/.config/tenant-platform/.env)
func Load() []string {
	candidates := make([]string, 0, 3)

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		candidates = append(candidates, envFile)
	}

	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	} else {
		candidates = append(candidates, ".env")
	}

	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "tenant-platform", ".env"))
	}

	return LoadFiles(candidates...)
}

// LoadFiles loads every existing file among files, skipping duplicates.
func LoadFiles(files ...string) []string {
	var loaded []string
	seen := map[string]struct{}{}
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}

		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Load() will not override existing process environment variables.
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}
