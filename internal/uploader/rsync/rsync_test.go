package rsync

import (
	"testing"

	"github.com/ryanoboyle/wharf/internal/model"
)

func TestParseItemizedOutput(t *testing.T) {
	output := "" +
		">f+++++++++ config/new.json\n" +
		">f.st...... config/app.json\n" +
		"*deleting   config/old.json\n" +
		"cd+++++++++ config/\n" +
		"\n"

	entries := parseItemizedOutput(output)

	want := map[string]model.ChangeKind{
		"config/new.json": model.ChangeAdded,
		"config/app.json": model.ChangeModified,
		"config/old.json": model.ChangeDeleted,
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for _, e := range entries {
		k, ok := want[e.Path]
		if !ok {
			t.Errorf("unexpected path %q", e.Path)
			continue
		}
		if e.Kind != k {
			t.Errorf("path %q: got kind %q, want %q", e.Path, e.Kind, k)
		}
	}
}

func TestParseItemizedOutput_ParsesRenameEntries(t *testing.T) {
	output := "hf          config/new-name.json => config/old-name.json\n"

	entries := parseItemizedOutput(output)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}

	e := entries[0]
	if e.Kind != model.ChangeRenamed {
		t.Errorf("Kind = %q, want %q", e.Kind, model.ChangeRenamed)
	}
	if e.Path != "config/new-name.json" {
		t.Errorf("Path = %q, want %q", e.Path, "config/new-name.json")
	}
	if e.FromPath != "config/old-name.json" {
		t.Errorf("FromPath = %q, want %q", e.FromPath, "config/old-name.json")
	}
}

func TestParseItemizedOutput_IgnoresDirectoryLines(t *testing.T) {
	entries := parseItemizedOutput("cd+++++++++ nested/\n")
	if len(entries) != 0 {
		t.Fatalf("expected directory-only output to produce no entries, got %+v", entries)
	}
}

func TestCommonBaseDir(t *testing.T) {
	cases := []struct {
		name  string
		paths []string
		want  string
	}{
		{"shared prefix", []string{"app/config/a.json", "app/config/b.json"}, "app/config"},
		{"diverging at top", []string{"app/a.json", "lib/b.json"}, ""},
		{"single top-level file", []string{"a.json"}, ""},
		{"one path only", []string{"app/config/a.json"}, "app/config"},
		{"empty", nil, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CommonBaseDir(c.paths)
			if got != c.want {
				t.Errorf("CommonBaseDir(%v) = %q, want %q", c.paths, got, c.want)
			}
		})
	}
}

func TestSSHArgs_IncludesKeyFileWhenConfigured(t *testing.T) {
	u := New(model.ResolvedTarget{
		Host:     "example.com",
		User:     "deploy",
		Port:     2222,
		AuthType: model.AuthSSHKey,
		KeyFile:  "/home/deploy/.ssh/id_ed25519",
	})

	args := u.sshArgs("")
	found := false
	for i, a := range args {
		if a == "-i" && i+1 < len(args) && args[i+1] == "/home/deploy/.ssh/id_ed25519" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected -i key flag in sshArgs, got %v", args)
	}
}

func TestRsyncArgs_AppliesPreserveAndExcludes(t *testing.T) {
	u := New(model.ResolvedTarget{
		Host: "example.com",
		User: "deploy",
		Preserve: model.PreserveFlags{
			ModTime: true,
			Owner:   true,
		},
		RsyncOptions: []string{"--bwlimit=5000"},
	})

	args := u.rsyncArgs(true, []string{"*.log"})

	wantContains := []string{"--dry-run", "--times", "--owner", "--group", "--exclude=*.log", "--bwlimit=5000"}
	for _, w := range wantContains {
		if !containsArg(args, w) {
			t.Errorf("rsyncArgs missing %q, got %v", w, args)
		}
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestRemoteDirOf(t *testing.T) {
	if got := remoteDirOf("a/b/c.txt"); got != "a/b" {
		t.Errorf("remoteDirOf(a/b/c.txt) = %q, want a/b", got)
	}
	if got := remoteDirOf("c.txt"); got != "" {
		t.Errorf("remoteDirOf(c.txt) = %q, want empty", got)
	}
}
