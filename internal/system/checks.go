package system

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/logger"
)

var (
	ErrKernelTooOld  = errors.New("kernel too old for signal audit")
	ErrNotPrivileged = errors.New("signal audit needs root")
)

// procVersionPath is swapped by tests.
var procVersionPath = "/proc/version"

// KernelVersion holds the parsed major.minor kernel version.
type KernelVersion struct {
	Major int
	Minor int
	Patch int
}

func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast returns true if v >= other.
func (v KernelVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// CheckAuditRequirements validates that the eBPF signal audit can attach a
// program to the signal_generate tracepoint: a kernel with tracepoint BPF
// support and an effective uid of 0. An unparseable kernel version is
// logged and tolerated.
func CheckAuditRequirements() error {
	return checkAuditRequirements(os.Geteuid())
}

func checkAuditRequirements(euid int) error {
	kv, err := parseKernelVersion()
	if err != nil {
		logger.Warn("Could not parse kernel version; proceeding anyway", zap.Error(err))
	} else {
		if !kv.AtLeast(config.MinAuditKernelMajor, config.MinAuditKernelMinor) {
			return fmt.Errorf("%w: sigprobe --audit requires Linux %d.%d+, running on %s",
				ErrKernelTooOld, config.MinAuditKernelMajor, config.MinAuditKernelMinor, kv)
		}
		logger.Debug("Kernel version check passed", zap.String("kernel", kv.String()))
	}

	if euid != 0 {
		return fmt.Errorf("%w: run sigprobe --audit as root or drop the flag", ErrNotPrivileged)
	}
	if !tracepointAvailable() {
		logger.Warn("signal:signal_generate tracepoint not visible under tracefs; attaching may fail",
			zap.String("hint", "mount tracefs at /sys/kernel/tracing"))
	}
	return nil
}

// CheckSELinux warns when SELinux is enforcing, since it can deny BPF
// program loads with a bare EACCES.
func CheckSELinux() {
	enforcing, how := selinuxEnforcing()
	if !enforcing {
		return
	}
	logger.Warn(
		"SELinux is in Enforcing mode (detected via "+how+"). "+
			"This may block loading the signal audit program.\n"+
			"  Run 'sudo setenforce 0' temporarily or drop --audit.\n"+
			"  Set SIGPROBE_SKIP_SELINUX_CHECK=1 to suppress this warning.")
}

// parseKernelVersion reads the running kernel version from /proc/version.
// It handles forms like:
//   - "Linux version 6.1.0-28-amd64 ..."
//   - "Linux version 5.15.0-1030-aws ..."
func parseKernelVersion() (KernelVersion, error) {
	data, err := os.ReadFile(procVersionPath)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("read %s: %w", procVersionPath, err)
	}

	fields := strings.Fields(string(data))
	for i, f := range fields {
		if strings.ToLower(f) == "version" && i+1 < len(fields) {
			return parseVersionString(fields[i+1])
		}
	}
	return KernelVersion{}, fmt.Errorf("could not find version field in %s", procVersionPath)
}

func parseVersionString(s string) (KernelVersion, error) {
	// Strip distro and local build suffixes.
	for _, sep := range []string{"-", "+"} {
		if idx := strings.Index(s, sep); idx >= 0 {
			s = s[:idx]
		}
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return KernelVersion{}, fmt.Errorf("unexpected version string %q", s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return KernelVersion{}, fmt.Errorf("parse major from %q: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return KernelVersion{}, fmt.Errorf("parse minor from %q: %w", s, err)
	}
	patch := 0
	if len(parts) >= 3 {
		patch, _ = strconv.Atoi(parts[2])
	}
	return KernelVersion{Major: major, Minor: minor, Patch: patch}, nil
}

func tracepointAvailable() bool {
	for _, root := range []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"} {
		path := root + "/events/" + config.SignalGenerateGroup + "/" + config.SignalGenerateEvent
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

func selinuxEnforcing() (bool, string) {
	if os.Getenv("SIGPROBE_SKIP_SELINUX_CHECK") == "1" {
		return false, ""
	}

	if data, err := os.ReadFile("/sys/fs/selinux/enforce"); err == nil {
		if strings.TrimSpace(string(data)) == "1" {
			return true, "/sys/fs/selinux/enforce"
		}
		return false, ""
	}

	if _, err := os.Stat("/sys/fs/selinux"); err == nil {
		return true, "/sys/fs/selinux (enforce unreadable)"
	}

	if data, err := os.ReadFile("/proc/cmdline"); err == nil {
		cmdline := string(data)
		if strings.Contains(cmdline, "security=selinux") || strings.Contains(cmdline, "selinux=1") {
			return true, "/proc/cmdline"
		}
	}

	return false, ""
}
