package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

// The installer writes a launch agent into the user's session, not a system
// daemon: the sidecar serves one user's kanban client and binds loopback
// ports inside that session.

const launchdLabel = "com.kanbanhq.syncbox"

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Executable}}</string>
		<string>--config</string>
		<string>{{.ConfigPath}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>LimitLoadToSessionType</key>
	<string>Aqua</string>
	<key>StandardOutPath</key>
	<string>{{.LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{.ErrorLogPath}}</string>
</dict>
</plist>
`

type launchdAgent struct {
	Label        string
	Executable   string
	ConfigPath   string
	LogPath      string
	ErrorLogPath string
}

func launchdPlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
}

func installLaunchd(configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home: %w", err)
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	// Agent logs go where macOS keeps them, not the state dir.
	logDir := filepath.Join(home, "Library", "Logs", "syncbox")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	plistPath, err := launchdPlistPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents dir: %w", err)
	}

	agent := launchdAgent{
		Label:        launchdLabel,
		Executable:   exe,
		ConfigPath:   configPath,
		LogPath:      filepath.Join(logDir, "syncbox.log"),
		ErrorLogPath: filepath.Join(logDir, "syncbox.error.log"),
	}

	f, err := os.Create(plistPath)
	if err != nil {
		return fmt.Errorf("create plist: %w", err)
	}
	tmpl := template.Must(template.New("plist").Parse(launchdTemplate))
	if err := tmpl.Execute(f, agent); err != nil {
		f.Close()
		return fmt.Errorf("render plist: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("✅ Launch agent installed: %s\n", plistPath)

	// Best effort: outside a GUI session launchctl has no bootstrap target.
	if out, err := exec.Command("launchctl", "load", "-w", plistPath).CombinedOutput(); err != nil {
		fmt.Printf("⚠️  launchctl load failed: %v %s\n", err, strings.TrimSpace(string(out)))
		fmt.Println("   Load it manually:")
		fmt.Printf("   launchctl load -w %s\n", plistPath)
		return nil
	}

	fmt.Println("   The agent starts at login. Manage it with:")
	fmt.Printf("   launchctl start %s\n", launchdLabel)
	fmt.Printf("   launchctl stop %s\n", launchdLabel)
	return nil
}

func uninstallLaunchd() error {
	plistPath, err := launchdPlistPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		fmt.Println("launch agent is not installed")
		return nil
	}

	// Unload before removing; ignore failures from a non-GUI session.
	if out, err := exec.Command("launchctl", "unload", plistPath).CombinedOutput(); err != nil {
		fmt.Printf("⚠️  launchctl unload failed: %v %s\n", err, strings.TrimSpace(string(out)))
	}

	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Println("✅ Launch agent removed")
	return nil
}
