package paths

import (
	"os"
)

// DataDirEnv overrides the data directory location.
const DataDirEnv = "DATA_DIR"

// GetDataDir returns the data directory path.
// DATA_DIR wins; inside Docker (/.dockerenv exists) it is /app/data,
// otherwise ./data next to the binary's working directory.
func GetDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/data"
	}
	return "./data"
}
