// Package systemd installs and checks the voxgate user service unit.
package systemd

import (
	"fmt"
	"os"
	"path/filepath"
)

// UnitName is the installed user unit file name.
const UnitName = "voxgate.service"

// DaemonTemplate returns the systemd user unit for the voxgate daemon.
// execPath is the absolute path of the voxgate binary.
func DaemonTemplate(execPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Voxgate voice-command gateway
After=default.target

[Service]
Type=simple
ExecStart=%s daemon
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=%%h/.voxgate

[Install]
WantedBy=default.target
`, execPath)
}

// UnitDir returns the systemd user unit directory.
func UnitDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// Install writes the unit file and records its install-time hash.
// Returns the path written.
func Install(execPath string) (string, error) {
	dir, err := UnitDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create unit directory: %w", err)
	}

	path := filepath.Join(dir, UnitName)
	if err := os.WriteFile(path, []byte(DaemonTemplate(execPath)), 0644); err != nil {
		return "", fmt.Errorf("write unit file: %w", err)
	}
	if err := RecordUnitFileHash(path); err != nil {
		return "", err
	}
	return path, nil
}
