package main

import (
	"os"
	"strconv"
	"strings"
)

// getMemoryLimit reads the container memory limit from the cgroup
// filesystem, trying cgroup v2 first and falling back to v1. Returns 0 with
// no error when no limit is detected (bare metal, VMs, unlimited containers).
func getMemoryLimit() (int64, error) {
	// Try cgroup v2 first (newer systems, Cloud Run)
	// Path: /sys/fs/cgroup/memory.max
	// Format: "536870912" or "max" (unlimited)
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	// Fallback to cgroup v1 (legacy systems)
	// Path: /sys/fs/cgroup/memory/memory.limit_in_bytes
	// Format: "536870912" (always a number, never "max")
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	// If no cgroup limits found, return 0 (no limit detected)
	// This happens on:
	//   - Non-containerized systems (bare metal, VMs)
	//   - macOS/Windows development environments
	//   - Containers without memory limits
	return 0, nil
}

// calculateMaxConnections determines a safe connection ceiling from the
// container's memory limit. Each session holds one cursor backlog channel
// (backlog slots of string headers) plus the goroutine stacks for its send
// and receive loops; history is shared per-room, not per-connection, so the
// per-session footprint here is small relative to a replay-buffer-per-client
// design.
//
// Safety bounds: minimum 100 (viable service), maximum 50,000 (practical
// upper bound before kernel socket/fd limits dominate), default 10,000 when
// no cgroup limit is detected.
func calculateMaxConnections(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}

	// Reserve 64MB for Go runtime heap, goroutine stacks, and metrics.
	const runtimeOverheadBytes = 64 * 1024 * 1024

	// ~16KB per session: two goroutine stacks plus the backlog channel.
	const bytesPerConnection = 16 * 1024

	availableBytes := memoryLimitBytes - runtimeOverheadBytes
	if availableBytes < 0 {
		// Very constrained environment (e.g., 64MB container)
		// Use 50% of total memory for connections
		availableBytes = memoryLimitBytes / 2
	}

	maxConns := int(availableBytes / bytesPerConnection)

	// Apply safety bounds to prevent extreme configurations
	if maxConns < 100 {
		maxConns = 100 // Minimum viable service
	}
	if maxConns > 50000 {
		maxConns = 50000 // Maximum reasonable (network limits kick in)
	}

	return maxConns
}
