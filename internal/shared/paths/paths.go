package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = ".ring-overlay"

// GetDataDir はデータ保存先を返す。DATA_DIR が設定されていればそれを優先する。
func GetDataDir() string {
	if dir := strings.TrimSpace(os.Getenv("DATA_DIR")); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return appDirName
	}
	return filepath.Join(home, appDirName)
}

// GetDBPath returns the default sqlite database path.
func GetDBPath() string {
	return filepath.Join(GetDataDir(), "local.db")
}

// GetImageDir returns the directory exported ring images are written to.
func GetImageDir() string {
	return filepath.Join(GetDataDir(), "images")
}

// EnsureDataDirs creates the data and image directories when missing.
func EnsureDataDirs() error {
	for _, dir := range []string{GetDataDir(), GetImageDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
