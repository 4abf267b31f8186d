package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kanbanhq/syncbox/internal/config"
)

// syncbox runs per user session: it binds loopback ports and caches one
// user's board data. Service management therefore targets user-level units
// (launchd agents on macOS, systemd --user on Linux) and never needs root.

func runServiceCommand(configPath string, args []string) error {
	if len(args) < 1 {
		printServiceHelp()
		return fmt.Errorf("service command required")
	}

	cmd := args[0]
	if cmd == "--help" || cmd == "-h" || cmd == "help" {
		printServiceHelp()
		return nil
	}

	switch cmd {
	case "start":
		return serviceStart(configPath)
	case "stop":
		return serviceStop()
	case "status":
		return serviceStatus(configPath)
	case "restart":
		return serviceRestart(configPath)
	case "install":
		return serviceInstall(configPath)
	case "uninstall":
		return serviceUninstall()
	default:
		return fmt.Errorf("unknown service command: %s", cmd)
	}
}

// stateDir holds the PID file and daemon log. SYNCBOX_STATE_DIR overrides
// the default for tests and packaging.
func stateDir() string {
	if dir := os.Getenv("SYNCBOX_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "syncbox")
	}
	return filepath.Join(home, ".syncbox")
}

func pidPath() string {
	return filepath.Join(stateDir(), "syncbox.pid")
}

func daemonLogPath() string {
	return filepath.Join(stateDir(), "logs", "syncbox.log")
}

// serviceStart spawns the daemon detached from this terminal and records
// its PID. Managed installs (launchd/systemd) supervise the process
// themselves and never go through here.
func serviceStart(configPath string) error {
	if pid, running := daemonPID(); running {
		return fmt.Errorf("syncbox is already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	logPath := daemonLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "--config", configPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid

	if err := writePIDFile(pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	fmt.Printf("📦 syncbox started (PID %d)\n", pid)
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Printf("   Log:    %s\n", logPath)
	return nil
}

func serviceStop() error {
	pid, running := daemonPID()
	if !running {
		fmt.Println("syncbox is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	fmt.Printf("Stopping syncbox (PID %d)...\n", pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	// The daemon drains its servers and closes its stores on SIGTERM; give
	// it a moment before forcing.
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if _, still := daemonPID(); !still {
			_ = os.Remove(pidPath())
			fmt.Println("✅ syncbox stopped")
			return nil
		}
	}

	fmt.Println("⚠️  shutdown deadline passed, killing")
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill daemon: %w", err)
	}
	_ = os.Remove(pidPath())
	return nil
}

// serviceStatus reports process liveness and, when the daemon is up, probes
// its control API so "running but wedged" is visible too.
func serviceStatus(configPath string) error {
	pid, running := daemonPID()
	if !running {
		fmt.Println("syncbox is not running")
		return fmt.Errorf("not running")
	}

	fmt.Printf("✅ syncbox is running (PID %d)\n", pid)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("   control API not probed (config: %v)\n", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + cfg.Control.Listen + "/healthz")
	if err != nil {
		fmt.Printf("   control API unreachable at %s: %v\n", cfg.Control.Listen, err)
		return nil
	}
	resp.Body.Close()

	fmt.Printf("   Control: http://%s (healthz %d)\n", cfg.Control.Listen, resp.StatusCode)
	fmt.Printf("   Proxy:   http://%s -> %s\n", cfg.Proxy.Listen, cfg.Proxy.Origin)
	return nil
}

func serviceRestart(configPath string) error {
	if _, running := daemonPID(); running {
		if err := serviceStop(); err != nil {
			return err
		}
	}
	return serviceStart(configPath)
}

func serviceInstall(configPath string) error {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(configPath)
	case "linux":
		return installSystemd(configPath)
	default:
		return fmt.Errorf("no service template for %s; run syncbox in the foreground instead", runtime.GOOS)
	}
}

func serviceUninstall() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd()
	case "linux":
		return uninstallSystemd()
	default:
		return fmt.Errorf("no service template for %s", runtime.GOOS)
	}
}

// daemonPID reads the PID file and checks the process is alive.
func daemonPID() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 checks liveness without touching the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

func writePIDFile(pid int) error {
	if err := os.MkdirAll(stateDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(pid)+"\n"), 0644)
}

func printServiceHelp() {
	fmt.Println(`syncbox service - manage the sync sidecar

USAGE:
    syncbox [--config <path>] service <command>

COMMANDS:
    start       Spawn the daemon in the background
    stop        Stop the daemon gracefully (SIGTERM, then kill)
    status      Check the daemon and probe its control API
    restart     Stop then start
    install     Install a user-level service (launchd agent / systemd --user)
    uninstall   Remove the user-level service
    help        Show this help message

EXAMPLES:
    # Run managed by hand
    syncbox service start
    syncbox service status

    # Or install it into the user session
    syncbox service install
    systemctl --user status syncbox        # Linux
    launchctl start com.kanbanhq.syncbox   # macOS`)
}
