package platform

import (
	"context"
	"strings"
)

// Builtin returns the built-in platform profiles in their canonical
// registration order. The generic baseline is not included; it is the
// registry's fallback, not a probed candidate.
func Builtin() []*Platform {
	return []*Platform{Linux(), Darwin(), FreeBSD(), Windows()}
}

// Linux matches hosts whose kernel reports Linux.
func Linux() *Platform {
	return &Platform{
		ID:           "linux",
		DisplayName:  "Linux",
		Capabilities: []string{"ps", "df", "free", "ss", "journalctl", "dmesg"},
		ToolModules:  []string{"system", "network", "storage", "logs"},
		Detect:       unameProbe("Linux"),
	}
}

// Darwin matches macOS hosts.
func Darwin() *Platform {
	return &Platform{
		ID:           "darwin",
		DisplayName:  "macOS",
		Capabilities: []string{"ps", "df", "vm_stat", "netstat", "log"},
		ToolModules:  []string{"system", "network", "storage"},
		Detect:       unameProbe("Darwin"),
	}
}

// FreeBSD matches FreeBSD hosts.
func FreeBSD() *Platform {
	return &Platform{
		ID:           "freebsd",
		DisplayName:  "FreeBSD",
		Capabilities: []string{"ps", "df", "netstat", "dmesg"},
		ToolModules:  []string{"system", "network", "storage"},
		Detect:       unameProbe("FreeBSD"),
	}
}

// Windows matches Windows hosts reached over WinRM, or Unix-flavored
// shells running on Windows (MSYS, Cygwin) with lower confidence.
func Windows() *Platform {
	return &Platform{
		ID:           "windows",
		DisplayName:  "Windows",
		Capabilities: []string{"tasklist", "systeminfo", "netstat", "wevtutil"},
		ToolModules:  []string{"system", "network", "events"},
		Detect: func(ctx context.Context, run Executor) (int, error) {
			res, err := run(ctx, "cmd /c ver")
			if err == nil && res.ExitCode == 0 && strings.Contains(res.Stdout, "Windows") {
				return 100, nil
			}

			res, err = run(ctx, "uname -s")
			if err != nil {
				return 0, err
			}
			name := strings.TrimSpace(res.Stdout)
			if strings.HasPrefix(name, "MINGW") || strings.HasPrefix(name, "MSYS") || strings.HasPrefix(name, "CYGWIN") {
				return 60, nil
			}
			return 0, nil
		},
	}
}

// Generic is the baseline profile selected when nothing else matches. It
// assumes only the POSIX core utilities and carries no probe.
func Generic() *Platform {
	return &Platform{
		ID:           "generic",
		DisplayName:  "Generic POSIX",
		Capabilities: []string{"uname", "ps", "df"},
		ToolModules:  []string{"system"},
		Detect: func(ctx context.Context, run Executor) (int, error) {
			return 0, nil
		},
	}
}

// unameProbe builds a probe that runs uname -s and scores 100 on an exact
// kernel-name match, 0 otherwise.
func unameProbe(kernel string) func(ctx context.Context, run Executor) (int, error) {
	return func(ctx context.Context, run Executor) (int, error) {
		res, err := run(ctx, "uname -s")
		if err != nil {
			return 0, err
		}
		if res.ExitCode != 0 {
			return 0, nil
		}
		if strings.TrimSpace(res.Stdout) == kernel {
			return 100, nil
		}
		return 0, nil
	}
}
