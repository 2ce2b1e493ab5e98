package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadEnv loads environment variables from a .env file.
//
// Search order (stops at the first file found):
//  1. Explicit paths passed as arguments (test use).
//  2. Directory of the running executable, walking up to 3 levels so
//     bin/gbridge finds the project-root .env.
//  3. Current working directory, for `go run ./cmd/gbridge`.
//
// If no .env is found anywhere, the process continues with system env vars.
func LoadEnv(paths ...string) {
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			log.Debug().Strs("paths", paths).Msg("no .env at specified paths, using system environment")
		}
		return
	}

	candidates := resolveEnvCandidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to load .env")
			} else {
				log.Debug().Str("path", p).Msg("loaded .env")
			}
			return
		}
	}
	log.Debug().Msg("no .env file found, using system environment")
}

// resolveEnvCandidates returns the ordered list of .env paths to probe.
// Exported to tests via env_test.go only.
func resolveEnvCandidates() []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		dir := filepath.Dir(exe)
		for i := 0; i <= 3; i++ {
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break // filesystem root
			}
			dir = parent
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, ".env"))
	}
	return candidates
}
