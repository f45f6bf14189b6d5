//go:build windows

package log

import (
	"os"
	"path/filepath"
)

// getDefaultDir is %LOCALAPPDATA%\hark\logs.
func getDefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName, "logs"), nil
}
