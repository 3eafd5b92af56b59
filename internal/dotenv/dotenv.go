package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads ./.env into the process environment. A missing file is fine.
func Load() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFrom reads the named env file. Unlike Load, the file must exist: an
// explicitly requested --env-file that is missing is a configuration error.
func LoadFrom(path string) error {
	if path == "" {
		return Load()
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
