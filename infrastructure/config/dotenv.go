package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a local .env file into the process environment the way
// the teacher's cmd/appserver does for development: optional, so its
// absence in production/CI is silent, but a malformed file still warns
// instead of failing startup outright.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load .env: %v\n", err)
		}
	}
}
