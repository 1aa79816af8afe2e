package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "labbot"

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Last resort fallback to temp directory
		return filepath.Join(os.TempDir(), appName, "logs"), nil
	}

	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName, "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", appName, "logs"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", appName), nil
	default:
		// XDG_STATE_HOME if set, otherwise ~/.local/state
		stateDir := os.Getenv("XDG_STATE_HOME")
		if stateDir == "" {
			stateDir = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateDir, appName, "logs"), nil
	}
}

// GetLogFilePathWithDir returns the full path for a log file, creating the
// directory. An empty logDir selects the OS default.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
