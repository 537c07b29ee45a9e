package memctl

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// cgroupV2MaxPath and cgroupV1LimitPath are the two places a Linux
// host may publish the container's memory ceiling. cgroup v2's "max"
// value (unbounded) reports unavailable, matching v1's absence.
const (
	cgroupV2MaxPath     = "/sys/fs/cgroup/memory.max"
	cgroupV1LimitPath   = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
	cgroupV2CurrentPath = "/sys/fs/cgroup/memory.current"
	cgroupV1UsagePath   = "/sys/fs/cgroup/memory/memory.usage_in_bytes"
)

// CurrentUsage reads the node's current cgroup memory usage, falling
// back from v2 to v1, and reporting 0 when neither file is readable.
// It is the default MemoryUsageFunc wired into Controller by
// cmd/coriolisd.
func CurrentUsage(ctx context.Context) int64 {
	if v, ok := readCgroupFile(cgroupV2CurrentPath); ok {
		return v
	}
	if v, ok := readCgroupFile(cgroupV1UsagePath); ok {
		return v
	}
	return 0
}

// CgroupVMMonitor is the production VMMonitor for a Linux-hosted
// broker node: it reads the cgroup v2 memory.max file, falling back
// to the v1 path, and reports unavailable (so callers fall back to
// VMM_DEFAULT) when neither file is readable or the limit is
// unbounded.
type CgroupVMMonitor struct{}

// NewCgroupVMMonitor returns the default Linux cgroup-backed monitor.
func NewCgroupVMMonitor() *CgroupVMMonitor {
	return &CgroupVMMonitor{}
}

// Limit implements VMMonitor.
func (m *CgroupVMMonitor) Limit(ctx context.Context) (int64, bool) {
	if v, ok := readCgroupV2(); ok {
		return v, true
	}
	if v, ok := readCgroupFile(cgroupV1LimitPath); ok {
		return v, true
	}
	return 0, false
}

func readCgroupV2() (int64, bool) {
	raw, err := os.ReadFile(cgroupV2MaxPath)
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(raw))
	if text == "max" {
		return 0, false
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func readCgroupFile(path string) (int64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	// A v1 cgroup with no limit set reports a sentinel near the
	// maximum representable page count; treat that as unavailable too.
	if v >= 1<<62 {
		return 0, false
	}
	return v, true
}
