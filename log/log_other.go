//go:build !windows

package log

import (
	"os"
	"path/filepath"
	"runtime"
)

// getDefaultDir is ~/Library/Logs/hark on macOS and
// $XDG_CONFIG_HOME/hark/logs elsewhere.
func getDefaultDir() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", appName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName, "logs"), nil
}
