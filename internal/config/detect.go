package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ProfileAuto picks a profile from the host's CPU and memory
const ProfileAuto Profile = "auto"

// Resources is what the host (or its container limits) offers
type Resources struct {
	CPUs     float64 // cgroup quota when set, else runtime.NumCPU
	MemoryMB int     // cgroup limit when set, else MemTotal; 0 if unknown
}

// DetectResources reads CPU and memory limits. root is the filesystem root,
// "/" outside of tests.
func DetectResources(root string) Resources {
	res := Resources{CPUs: float64(runtime.NumCPU())}
	if limit, ok := cgroupCPU(root); ok && limit < res.CPUs {
		res.CPUs = limit
	}
	if mb, ok := cgroupMemory(root); ok {
		res.MemoryMB = mb
	} else if mb, ok := memTotal(root); ok {
		res.MemoryMB = mb
	}
	return res
}

// Recommend maps resources to a profile and the reasons for it
func Recommend(res Resources) (Profile, []string) {
	var reasons []string
	profile := ProfileBalanced

	switch {
	case res.MemoryMB > 0 && res.MemoryMB < 256:
		profile = ProfileRelaxed
		reasons = append(reasons, fmt.Sprintf("low memory: %dMB < 256MB", res.MemoryMB))
	case res.CPUs < 1:
		profile = ProfileRelaxed
		reasons = append(reasons, fmt.Sprintf("cpu limited to %.2f cores", res.CPUs))
	case res.CPUs >= 4 && res.MemoryMB >= 1024:
		profile = ProfileRealtime
		reasons = append(reasons, fmt.Sprintf("%.0f cores, %dMB memory", res.CPUs, res.MemoryMB))
	default:
		reasons = append(reasons, fmt.Sprintf("%.2f cores, %dMB memory", res.CPUs, res.MemoryMB))
	}
	if res.MemoryMB == 0 {
		reasons = append(reasons, "could not determine available memory")
	}
	return profile, reasons
}

// ResolveProfile replaces ProfileAuto with a detected profile
func (c *Config) ResolveProfile(root string) []string {
	if c.Profile != ProfileAuto {
		return nil
	}
	profile, reasons := Recommend(DetectResources(root))
	c.Profile = profile
	return reasons
}

func readFileSafe(root, path string) string {
	data, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		return ""
	}
	return string(data)
}

func cgroupCPU(root string) (float64, bool) {
	// cgroup v2
	if cpuMax := readFileSafe(root, "sys/fs/cgroup/cpu.max"); cpuMax != "" {
		fields := strings.Fields(cpuMax)
		if len(fields) >= 2 && fields[0] != "max" {
			quota, err1 := strconv.ParseInt(fields[0], 10, 64)
			period, err2 := strconv.ParseInt(fields[1], 10, 64)
			if err1 == nil && err2 == nil && period > 0 {
				return float64(quota) / float64(period), true
			}
		}
	}

	// cgroup v1
	quota := strings.TrimSpace(readFileSafe(root, "sys/fs/cgroup/cpu/cpu.cfs_quota_us"))
	period := strings.TrimSpace(readFileSafe(root, "sys/fs/cgroup/cpu/cpu.cfs_period_us"))
	q, err1 := strconv.ParseInt(quota, 10, 64)
	p, err2 := strconv.ParseInt(period, 10, 64)
	if err1 == nil && err2 == nil && q > 0 && p > 0 {
		return float64(q) / float64(p), true
	}
	return 0, false
}

func cgroupMemory(root string) (int, bool) {
	if limit := strings.TrimSpace(readFileSafe(root, "sys/fs/cgroup/memory.max")); limit != "" && limit != "max" {
		if bytes, err := strconv.ParseInt(limit, 10, 64); err == nil {
			return int(bytes / 1024 / 1024), true
		}
	}
	limit := strings.TrimSpace(readFileSafe(root, "sys/fs/cgroup/memory/memory.limit_in_bytes"))
	// v1 reports "unlimited" as a huge number
	if bytes, err := strconv.ParseInt(limit, 10, 64); err == nil && bytes < 1<<62 {
		return int(bytes / 1024 / 1024), true
	}
	return 0, false
}

func memTotal(root string) (int, bool) {
	for _, line := range strings.Split(readFileSafe(root, "proc/meminfo"), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return int(kb / 1024), true
	}
	return 0, false
}
