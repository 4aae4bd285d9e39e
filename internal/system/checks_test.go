package system

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKernelVersionAtLeast(t *testing.T) {
	cases := []struct {
		v            KernelVersion
		major, minor int
		want         bool
	}{
		{KernelVersion{6, 1, 0}, 4, 7, true},
		{KernelVersion{4, 7, 0}, 4, 7, true},
		{KernelVersion{4, 6, 0}, 4, 7, false},
		{KernelVersion{3, 19, 0}, 4, 7, false},
		{KernelVersion{6, 0, 0}, 6, 1, false},
		{KernelVersion{5, 15, 100}, 5, 15, true},
	}
	for _, tc := range cases {
		if got := tc.v.AtLeast(tc.major, tc.minor); got != tc.want {
			t.Errorf("KernelVersion{%d,%d}.AtLeast(%d,%d) = %v, want %v",
				tc.v.Major, tc.v.Minor, tc.major, tc.minor, got, tc.want)
		}
	}
}

func TestKernelVersionString(t *testing.T) {
	kv := KernelVersion{5, 15, 3}
	if s := kv.String(); s != "5.15.3" {
		t.Errorf("String() = %q, want %q", s, "5.15.3")
	}
}

func TestParseVersionString(t *testing.T) {
	cases := []struct {
		in          string
		wantMajor   int
		wantMinor   int
		wantPatch   int
		expectError bool
	}{
		{"6.1.0", 6, 1, 0, false},
		{"5.15.0-1030-aws", 5, 15, 0, false},
		{"6.1.0+custom", 6, 1, 0, false},
		{"4.7", 4, 7, 0, false},
		{"notaversion", 0, 0, 0, true},
		{"x.y", 0, 0, 0, true},
	}
	for _, tc := range cases {
		kv, err := parseVersionString(tc.in)
		if tc.expectError {
			if err == nil {
				t.Errorf("parseVersionString(%q): expected error, got %+v", tc.in, kv)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVersionString(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if kv.Major != tc.wantMajor || kv.Minor != tc.wantMinor || kv.Patch != tc.wantPatch {
			t.Errorf("parseVersionString(%q) = %+v, want {%d %d %d}",
				tc.in, kv, tc.wantMajor, tc.wantMinor, tc.wantPatch)
		}
	}
}

func withProcVersion(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	old := procVersionPath
	procVersionPath = path
	t.Cleanup(func() { procVersionPath = old })
}

func TestCheckAuditRequirements(t *testing.T) {
	tests := []struct {
		name    string
		version string
		euid    int
		wantErr error
	}{
		{"modern root", "Linux version 6.1.0-28-amd64 (gcc)", 0, nil},
		{"old kernel", "Linux version 4.4.0-generic (gcc)", 0, ErrKernelTooOld},
		{"not root", "Linux version 6.1.0 (gcc)", 1000, ErrNotPrivileged},
		{"unparseable kernel", "garbage", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withProcVersion(t, tt.version)
			err := checkAuditRequirements(tt.euid)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseKernelVersion_MissingFile(t *testing.T) {
	old := procVersionPath
	procVersionPath = filepath.Join(t.TempDir(), "missing")
	defer func() { procVersionPath = old }()
	if _, err := parseKernelVersion(); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSelinuxEnforcing_SkipEnvVar(t *testing.T) {
	t.Setenv("SIGPROBE_SKIP_SELINUX_CHECK", "1")
	enforcing, how := selinuxEnforcing()
	if enforcing {
		t.Errorf("expected enforcing=false when skip env is set, got enforcing=true how=%q", how)
	}
}

func TestCheckSELinux_NoSELinux(t *testing.T) {
	t.Setenv("SIGPROBE_SKIP_SELINUX_CHECK", "1")
	CheckSELinux()
}
