package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the running test's name so
// interleaved output from room and client goroutines stays attributable.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[go-meet/"+t.Name()+"] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
