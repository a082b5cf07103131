package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes both binaries return from main without touching Postgres or Redis.
const TestModeEnv = "CONSIGNHUB_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether startup side effects should be skipped.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads TestModeEnv. Any value strconv.ParseBool treats as true enables it.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.on.Store(on)
}

// EnableTestMode turns test mode on for this process unless TestModeEnv was set explicitly.
func EnableTestMode() {
	if _, set := os.LookupEnv(TestModeEnv); !set {
		_ = os.Setenv(TestModeEnv, "1")
	}
	RefreshTestMode()
}
