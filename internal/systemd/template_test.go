package systemd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDaemonTemplate(t *testing.T) {
	tmpl := DaemonTemplate("/usr/local/bin/voxgate")

	// Must be a valid systemd unit with required sections.
	for _, section := range []string{"[Unit]", "[Service]", "[Install]"} {
		if !strings.Contains(tmpl, section) {
			t.Errorf("template missing section %s", section)
		}
	}

	// Must run the daemon subcommand of the given binary.
	if !strings.Contains(tmpl, "ExecStart=/usr/local/bin/voxgate daemon") {
		t.Error("template missing ExecStart with daemon subcommand")
	}

	// Must have security hardening directives.
	for _, directive := range []string{
		"NoNewPrivileges=true",
		"PrivateTmp=true",
		"ProtectSystem=strict",
		"ProtectHome=read-only",
	} {
		if !strings.Contains(tmpl, directive) {
			t.Errorf("template missing security directive %s", directive)
		}
	}

	// Must allow writes to the state directory only.
	if !strings.Contains(tmpl, "ReadWritePaths=%h/.voxgate") {
		t.Error("template missing ReadWritePaths for state directory")
	}

	// User units install into the default target.
	if !strings.Contains(tmpl, "WantedBy=default.target") {
		t.Error("template missing WantedBy=default.target")
	}
}

func TestInstallWritesUnitAndHash(t *testing.T) {
	tmpDir := t.TempDir()
	home := filepath.Join(tmpDir, "home")
	t.Setenv("HOME", home)

	oldHash := UnitHashPath
	hashFile := filepath.Join(tmpDir, "unit-file.sha256")
	UnitHashPath = func() (string, error) { return hashFile, nil }
	defer func() { UnitHashPath = oldHash }()

	path, err := Install("/usr/local/bin/voxgate")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if !strings.HasSuffix(path, filepath.Join(".config", "systemd", "user", UnitName)) {
		t.Errorf("unexpected unit path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read unit file: %v", err)
	}
	if string(data) != DaemonTemplate("/usr/local/bin/voxgate") {
		t.Error("installed unit file does not match template")
	}

	if _, err := os.Stat(hashFile); err != nil {
		t.Errorf("install did not record unit file hash: %v", err)
	}
}
