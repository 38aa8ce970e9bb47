package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ryanoboyle/wharf/internal/model"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wharf.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_GitSourceAndDefaultsInheritance(t *testing.T) {
	path := writeTempConfig(t, `
web:
  from:
    type: git
    base: HEAD~1
  to:
    defaults:
      protocol: sftp
      auth_type: ssh_key
      key_file: /home/me/.ssh/id_ed25519
      user: deploy
      sync_mode: update
    targets:
      - host: a.example.com
        dest: /var/www/app
      - host: b.example.com
        dest: /var/www/app
        protocol: rsync
`)

	p, err := Load(path, "web")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Source.Type != "git" || p.Source.Base != "HEAD~1" || p.Source.Target != "HEAD" {
		t.Errorf("unexpected source: %+v", p.Source)
	}
	if len(p.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(p.Targets))
	}
	if p.Targets[0].Protocol != model.ProtocolSFTP {
		t.Errorf("target 0 should inherit sftp protocol, got %q", p.Targets[0].Protocol)
	}
	if p.Targets[1].Protocol != model.ProtocolRsync {
		t.Errorf("target 1 should override to rsync, got %q", p.Targets[1].Protocol)
	}
	if p.Targets[0].User != "deploy" {
		t.Errorf("target 0 should inherit user, got %q", p.Targets[0].User)
	}
}

func TestLoad_MissingDestIsValidationError(t *testing.T) {
	path := writeTempConfig(t, `
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
`)

	if _, err := Load(path, "web"); err == nil {
		t.Fatal("expected validation error for missing dest")
	}
}

func TestLoad_BothGlobalIgnoreFormsIsError(t *testing.T) {
	path := writeTempConfig(t, `
_global:
  ignore: ["*.log"]
  ignore_groups:
    node: ["node_modules"]
  default_ignore: ["node"]
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
        protocol: local
        dest: /srv/app
`)

	if _, err := Load(path, "web"); err == nil {
		t.Fatal("expected error when both _global.ignore and _global.ignore_groups are present")
	}
}

func TestLoad_IgnoreGroupsResolveUseAndAdd(t *testing.T) {
	path := writeTempConfig(t, `
_global:
  ignore_groups:
    node: ["node_modules", "*.log"]
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
        protocol: local
        dest: /srv/app
        ignore:
          use: ["node"]
          add: ["*.tmp"]
`)

	p, err := Load(path, "web")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	patterns := p.Targets[0].IgnorePattern
	want := map[string]bool{"node_modules": true, "*.log": true, "*.tmp": true}
	if len(patterns) != len(want) {
		t.Fatalf("got patterns %v, want %v", patterns, want)
	}
	for _, p := range patterns {
		if !want[p] {
			t.Errorf("unexpected pattern %q", p)
		}
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeTempConfig(t, `
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
        protocol: local
        dest: /srv/app
        bogus_field: true
`)

	if _, err := Load(path, "web"); err == nil {
		t.Fatal("expected strict decoding to reject an unknown field")
	}
}

func TestLoad_InvalidProtocol(t *testing.T) {
	path := writeTempConfig(t, `
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
        protocol: ftp
        dest: /srv/app
`)

	if _, err := Load(path, "web"); err == nil {
		t.Fatal("expected validation error for unsupported protocol")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	os.Setenv("WHARF_TEST_HOST", "deployed.example.com")
	defer os.Unsetenv("WHARF_TEST_HOST")

	path := writeTempConfig(t, `
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: ${WHARF_TEST_HOST}
        protocol: sftp
        user: deploy
        auth_type: ssh_key
        dest: /srv/app
`)

	p, err := Load(path, "web")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Targets[0].Host != "deployed.example.com" {
		t.Errorf("got host %q, want expanded env value", p.Targets[0].Host)
	}
}

func TestList(t *testing.T) {
	path := writeTempConfig(t, `
web:
  from:
    type: file
    src: ["dist"]
  to:
    targets:
      - host: a.example.com
        protocol: local
        dest: /srv/app
api:
  from:
    type: file
    src: ["build"]
  to:
    targets:
      - host: b.example.com
        protocol: local
        dest: /srv/api
`)

	names, err := List(path)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 profile names, got %v", names)
	}
}
