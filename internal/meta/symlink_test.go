package meta

import "testing"

func TestSafeSymlinkTarget(t *testing.T) {
	cases := []struct {
		name   string
		relDir string
		target string
		want   bool
	}{
		{"plain sibling", "sub", "file.txt", true},
		{"parent within root", "a/b", "../c", true},
		{"escapes root", "a", "../../etc/passwd", false},
		{"absolute target", "a", "/etc/passwd", false},
		{"empty target", "a", "", false},
		{"dotdot at root", "", "..", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SafeSymlinkTarget("/root/tree", tc.relDir, tc.target)
			if got != tc.want {
				t.Errorf("SafeSymlinkTarget(%q, %q) = %v, want %v", tc.relDir, tc.target, got, tc.want)
			}
		})
	}
}
