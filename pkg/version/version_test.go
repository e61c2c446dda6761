package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()

	if !strings.Contains(info, "voxtide version") {
		t.Error("version info should contain 'voxtide version'")
	}
	if !strings.Contains(info, "dev") {
		t.Error("version info should contain default version 'dev'")
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Error("version info should contain the Go runtime version")
	}
}
