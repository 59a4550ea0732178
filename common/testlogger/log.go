package testlogger

import (
	"os"
	"testing"

	"github.com/blerps/blerps/common/log"
)

// Level returns the level tests log at: debug when BLERPS_TEST_LOGS=DEBUG,
// warnings otherwise so that passing runs stay quiet.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv(log.TestLogsEnv); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.WarnLevel
}

// New returns a logger tagged with the running test's name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), false).
		With("testName", t.Name())
}
