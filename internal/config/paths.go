package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// fileCandidates are tried in order when no config path is given.
var fileCandidates = []string{"rovercam.yaml", "mcp-x.config.json"}

// DefaultConfigPath returns the system-wide config file location for this OS.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return ResolveConfigPath(runtime.GOOS, home, os.Getenv("ProgramData"), "rovercam.yaml")
}

// ResolveConfigPath constructs a config file path for the given OS and base
// directories.
func ResolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "rovercam", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "rovercam", name)
	default:
		return filepath.Join("/etc", "rovercam", name)
	}
}

// FindConfigFile returns the first existing file among the working-directory
// candidates and the system-wide location, or "" when none exists.
func FindConfigFile(dir string) string {
	paths := make([]string, 0, len(fileCandidates)+1)
	for _, name := range fileCandidates {
		paths = append(paths, filepath.Join(dir, name))
	}
	paths = append(paths, DefaultConfigPath())
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}
