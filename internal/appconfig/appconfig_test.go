package appconfig

import (
	"os"
	"testing"
)

func TestGet_DefaultsWithoutInit(t *testing.T) {
	cfg = nil
	c := Get()
	if c.ReviewPort != 3000 {
		t.Errorf("ReviewPort = %d, want 3000", c.ReviewPort)
	}
	if c.UploaderIdleTimeout != 300 {
		t.Errorf("UploaderIdleTimeout = %d, want 300", c.UploaderIdleTimeout)
	}
}

func TestInit_EnvOverridesDefault(t *testing.T) {
	os.Setenv("WHARF_REVIEW_PORT", "4100")
	defer os.Unsetenv("WHARF_REVIEW_PORT")

	home := t.TempDir()
	os.Setenv("HOME", home)

	cfg = nil
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if Get().ReviewPort != 4100 {
		t.Errorf("ReviewPort = %d, want 4100 from env", Get().ReviewPort)
	}
}
