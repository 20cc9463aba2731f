package common

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the base data directory path.
// Priority:
// 1. TINYGEN_DIR from config
// 2. $HOME/.tinygen (default)
// 3. ./data (fallback if HOME is not set)
func GetDataDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.TinygenDir != "" {
		return cfg.Directory.TinygenDir
	}

	// Fallback: $HOME/.tinygen 사용
	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".tinygen")
	}

	// Fallback: ./data
	return "./data"
}

// GetWorkspaceDir returns the sandbox workspace directory path.
// Default: {DataDir}/workspace
func GetWorkspaceDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.WorkspaceBaseDir != "" {
		return cfg.Directory.WorkspaceBaseDir
	}
	return filepath.Join(GetDataDir(), "workspace")
}

// GetDatabasePath returns the SQLite database file path.
// Default: {DataDir}/tinygen.db
func GetDatabasePath() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.SQLiteDatabase != "" {
		return cfg.Directory.SQLiteDatabase
	}
	return filepath.Join(GetDataDir(), "tinygen.db")
}
