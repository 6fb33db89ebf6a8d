package metrics

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// HostInfo describes the machine a build service runs on. Reported on the
// builder health endpoint so slow builds can be traced to undersized hosts.
type HostInfo struct {
	Hostname         string `json:"hostname"`
	OS               string `json:"os"`
	OSVersion        string `json:"os_version"`
	Arch             string `json:"arch"`
	CPUs             int    `json:"cpus"`
	TotalMemoryMB    uint64 `json:"total_memory_mb"`
	GoVersion        string `json:"go_version"`
	InContainer      bool   `json:"in_container"`
	ContainerRuntime string `json:"container_runtime,omitempty"`
}

var (
	hostOnce sync.Once
	host     HostInfo
)

// Host returns the host description, computed once per process
func Host() HostInfo {
	hostOnce.Do(func() { host = captureHostInfo() })
	return host
}

func captureHostInfo() HostInfo {
	info := HostInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
		OSVersion: osVersion(),
	}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	} else {
		info.Hostname = "unknown"
	}
	info.InContainer, info.ContainerRuntime = detectContainer()
	info.TotalMemoryMB = totalMemoryMB()
	return info
}

func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}

func osVersion() string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "linux"
	}
	return parseOSRelease(string(data))
}

// parseOSRelease prefers PRETTY_NAME, then NAME VERSION
func parseOSRelease(data string) string {
	var name, version string
	for _, line := range strings.Split(data, "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, "\"")
		switch key {
		case "PRETTY_NAME":
			return val
		case "NAME":
			name = val
		case "VERSION":
			version = val
		}
	}
	if name == "" {
		return "linux"
	}
	return strings.TrimSpace(name + " " + version)
}

// totalMemoryMB reads MemTotal from /proc/meminfo, 0 elsewhere
func totalMemoryMB() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0
			}
			return kb / 1024
		}
	}
	return 0
}
