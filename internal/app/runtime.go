package app

import (
	"os"
	"sync"
)

const testModeEnv = "RXOPTIMA_TEST_MODE"

// InTestMode reports whether binaries should skip runtime side effects. The
// flag is read once per process.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
