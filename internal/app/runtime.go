package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "ANDINO_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether runtime side effects (pools, listeners, queue
// workers) should be skipped. Controlled by ANDINO_TEST_MODE=1 and cached
// after the first read.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	enabled := os.Getenv(testModeEnv) == "1"
	testMode.Store(&enabled)
	return enabled
}

// RefreshTestMode re-reads the environment, for tests that toggle the flag.
func RefreshTestMode() {
	enabled := os.Getenv(testModeEnv) == "1"
	testMode.Store(&enabled)
}
