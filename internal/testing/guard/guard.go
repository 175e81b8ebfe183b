// Package guard flips the process into test mode when imported, so binaries
// linked into tests skip connecting to Postgres and Redis.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the variable consulted by app.InTestMode.
const EnvVar = "FACILITYOPS_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
