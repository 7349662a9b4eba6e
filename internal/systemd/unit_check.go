package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitFilePath locates the installed unit file. Overridable for tests.
var UnitFilePath = func() (string, error) {
	dir, err := UnitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UnitName), nil
}

// UnitHashPath locates the install-time hash, stored next to the audit
// log under ~/.voxgate. Overridable for tests.
var UnitHashPath = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".voxgate", "unit-file.sha256"), nil
}

// CheckUnitFileIntegrity compares the installed unit file against the
// hash recorded at install time. Returns a warning message if the unit
// file has been modified, or empty string if integrity is confirmed or
// checking is not applicable (not installed, or no stored hash).
func CheckUnitFileIntegrity() string {
	unitPath, err := UnitFilePath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(unitPath); err != nil {
		return "" // Not installed as a service.
	}

	hp, err := UnitHashPath()
	if err != nil {
		return ""
	}
	stored, err := os.ReadFile(hp)
	if err != nil {
		return "" // No stored hash: manual install.
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	h := sha256.Sum256(data)
	actual := hex.EncodeToString(h[:])

	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// RecordUnitFileHash records the SHA-256 of the unit file at path.
// Called during installation to establish the baseline.
func RecordUnitFileHash(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read unit file: %w", err)
	}
	h := sha256.Sum256(data)

	hp, err := UnitHashPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(hp), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return os.WriteFile(hp, []byte(hex.EncodeToString(h[:])+"\n"), 0600)
}
