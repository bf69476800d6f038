package evidence

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestObjectKeyLayout(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	key := ObjectKey(now, "screenshot.PNG")
	if !strings.HasPrefix(key, "2026/03/14/") {
		t.Fatalf("key %q must start with the date prefix", key)
	}
	if !strings.HasSuffix(key, ".png") {
		t.Fatalf("key %q must keep the lowercased extension", key)
	}
	if !regexp.MustCompile(`^2026/03/14/ev_[0-9a-f]{32}\.png$`).MatchString(key) {
		t.Fatalf("key %q does not match the expected layout", key)
	}
}

func TestObjectKeyDropsSuspiciousExtensions(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	for _, filename := range []string{
		"noext",
		"evil.reallylongextension",
		"weird.ex t",
	} {
		key := ObjectKey(now, filename)
		if strings.Contains(strings.TrimPrefix(key, "2026/03/14/"), ".") {
			t.Fatalf("key %q for %q must not carry an extension", key, filename)
		}
	}
}

func TestObjectKeysAreUnique(t *testing.T) {
	now := time.Now().UTC()
	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		key := ObjectKey(now, "a.png")
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = struct{}{}
	}
}
