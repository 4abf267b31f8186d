package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

// The unit is a user unit: the sidecar belongs to a desktop session, so
// systemctl --user owns it and ties startup to the user's login rather
// than to boot.

const systemdUnitName = "syncbox.service"

const systemdTemplate = `[Unit]
Description=KanbanHQ offline cache and sync sidecar
Documentation=https://github.com/kanbanhq/syncbox
After=network-online.target

[Service]
ExecStart={{.Executable}} --config {{.ConfigPath}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5
TimeoutStopSec=20
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=default.target
`

type systemdUnit struct {
	Executable string
	ConfigPath string
}

// systemdUnitPath places the unit in the user manager's search path.
// os.UserConfigDir honors XDG_CONFIG_HOME.
func systemdUnitPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(cfgDir, "systemd", "user", systemdUnitName), nil
}

func installSystemd(configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	unitPath, err := systemdUnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	unit := systemdUnit{Executable: exe, ConfigPath: configPath}

	f, err := os.Create(unitPath)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	tmpl := template.Must(template.New("unit").Parse(systemdTemplate))
	if err := tmpl.Execute(f, unit); err != nil {
		f.Close()
		return fmt.Errorf("render unit: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("✅ User unit installed: %s\n", unitPath)

	// Activation needs a running user manager; on a bare shell or in CI
	// these fail and the printed commands cover it.
	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		fmt.Printf("⚠️  systemctl --user daemon-reload failed: %v %s\n", err, strings.TrimSpace(string(out)))
		fmt.Println("   Enable it manually:")
		fmt.Println("   systemctl --user daemon-reload")
		fmt.Printf("   systemctl --user enable --now %s\n", systemdUnitName)
		return nil
	}
	if out, err := exec.Command("systemctl", "--user", "enable", "--now", systemdUnitName).CombinedOutput(); err != nil {
		fmt.Printf("⚠️  systemctl --user enable failed: %v %s\n", err, strings.TrimSpace(string(out)))
		fmt.Printf("   Enable it manually: systemctl --user enable --now %s\n", systemdUnitName)
		return nil
	}

	fmt.Println("   Manage it with:")
	fmt.Printf("   systemctl --user status %s\n", systemdUnitName)
	fmt.Printf("   journalctl --user -u %s -f\n", systemdUnitName)
	return nil
}

func uninstallSystemd() error {
	unitPath, err := systemdUnitPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		fmt.Println("user unit is not installed")
		return nil
	}

	if out, err := exec.Command("systemctl", "--user", "disable", "--now", systemdUnitName).CombinedOutput(); err != nil {
		fmt.Printf("⚠️  systemctl --user disable failed: %v %s\n", err, strings.TrimSpace(string(out)))
	}

	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("remove unit: %w", err)
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()

	fmt.Println("✅ User unit removed")
	return nil
}
