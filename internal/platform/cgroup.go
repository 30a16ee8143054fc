package platform

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// cgroupCPU is a single point-in-time reading of cumulative CPU usage and
// the container's allocated CPU quota, used to derive a percentage.
type cgroupCPU struct {
	path             string
	version          int // 1 or 2
	numCPUsAllocated float64
}

// detectCgroupCPU locates this process's cgroup CPU controller and its
// configured quota, trying v2 first and falling back to v1. Returns an
// error when no cgroup is present (bare metal, VMs, macOS/Windows dev).
func detectCgroupCPU() (*cgroupCPU, error) {
	path, version, err := detectCgroupPath()
	if err != nil {
		return nil, err
	}

	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, err
	}

	cc := &cgroupCPU{path: path, version: version}
	if quota > 0 && period > 0 {
		cc.numCPUsAllocated = float64(quota) / float64(period)
	} else {
		cc.numCPUsAllocated = 0 // unbounded: caller falls back to host-wide sampling
	}
	return cc, nil
}

func detectCgroupPath() (path string, version int, err error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		hierarchyID, controllers, cgroupPath := parts[0], parts[1], parts[2]

		if hierarchyID == "0" && controllers == "" {
			return "/sys/fs/cgroup" + cgroupPath, 2, nil
		}
		if strings.Contains(controllers, "cpu") {
			return "/sys/fs/cgroup/cpu" + cgroupPath, 1, nil
		}
	}
	return "", 0, fmt.Errorf("platform: could not detect cgroup path")
}

func readCPUQuota(path string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("platform: unexpected cpu.max format %q", data)
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(path + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(path + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	return quota, period, err
}

func readCPUUsageUsec(path string, version int) (uint64, error) {
	if version == 2 {
		f, err := os.Open(path + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 2 && fields[0] == "usage_usec" {
				return strconv.ParseUint(fields[1], 10, 64)
			}
		}
		return 0, fmt.Errorf("platform: usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(path + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}
