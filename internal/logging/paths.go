package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.vsctoolbox/logs/).
// Falls back to the OS temp directory if home is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vsctoolbox", "logs")
	}
	return filepath.Join(home, ".vsctoolbox", "logs")
}

// DefaultLogPath returns the default facade log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "vsctoolbox.log")
}

// WorkerHostLogPath returns the log path the worker-host child process
// writes to directly, kept separate from the parent's log so a crashed
// host's last lines survive independent of the parent's own rotation.
func WorkerHostLogPath() string {
	return filepath.Join(DefaultLogDir(), "workerhost.log")
}

// FindLogFile locates the log file for viewing: an explicit path if given
// and present, otherwise the default facade log path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	def := DefaultLogPath()
	if _, err := os.Stat(def); err == nil {
		return def, nil
	}
	return "", fmt.Errorf("no log file found; run with --debug first. expected at: %s", def)
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
