//go:build !windows

package main

import (
	"context"
	"os"
	"syscall"
)

// getShutdownSignals returns the signals to listen for on Unix systems
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

// detachAttr puts a spawned daemon in its own session so it survives the
// terminal that launched it.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// handlePlatformSignal handles platform-specific signals, returns true if should continue loop
func handlePlatformSignal(sig os.Signal, app *App) bool {
	switch sig {
	case syscall.SIGHUP:
		reloadConfig(app)
		return true // continue loop
	case syscall.SIGUSR1:
		// Manual drain, same as the TRIGGER_SYNC command
		go func() {
			passes, err := app.Coordinator.DrainAll(context.Background(), "signal")
			if err != nil {
				app.Logger.Error("signal-triggered sync failed", "error", err)
				return
			}
			app.Logger.Info("signal-triggered sync complete", "passes", len(passes))
		}()
		return true // continue loop
	}
	return false // don't continue, proceed to shutdown
}
