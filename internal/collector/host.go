package collector

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// HostCounters are raw host readings; percentages are derived by the Sampler.
type HostCounters struct {
	CPUTotal       uint64
	CPUIdle        uint64
	MemTotalBytes  uint64
	MemAvailBytes  uint64
	DiskTotalBytes uint64
	DiskUsedBytes  uint64
}

// HostReader reads host counters from procfs and statfs.
type HostReader struct {
	ProcRoot string
	DiskPath string
}

func NewHostReader(diskPath string) *HostReader {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostReader{ProcRoot: "/proc", DiskPath: diskPath}
}

// ReadHost fails only when CPU counters are unreadable; memory and disk fall
// back to zero.
func (h *HostReader) ReadHost(ctx context.Context) (HostCounters, error) {
	if err := ctx.Err(); err != nil {
		return HostCounters{}, err
	}
	total, idle, err := readCPU(filepath.Join(h.ProcRoot, "stat"))
	if err != nil {
		return HostCounters{}, err
	}
	c := HostCounters{CPUTotal: total, CPUIdle: idle}
	if memTotal, memAvail, err := readMem(filepath.Join(h.ProcRoot, "meminfo")); err == nil {
		c.MemTotalBytes, c.MemAvailBytes = memTotal, memAvail
	}
	if diskTotal, diskUsed, err := readDiskUsage(h.DiskPath); err == nil {
		c.DiskTotalBytes, c.DiskUsedBytes = diskTotal, diskUsed
	}
	return c, nil
}

func readCPU(path string) (total, idle uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "cpu ") {
			parts := strings.Fields(line)
			if len(parts) < 5 {
				return 0, 0, errors.New("invalid cpu line")
			}
			vals := make([]uint64, 0, len(parts)-1)
			for _, p := range parts[1:] {
				v, e := strconv.ParseUint(p, 10, 64)
				if e != nil {
					return 0, 0, e
				}
				vals = append(vals, v)
				total += v
			}
			idle = vals[3]
			if len(vals) > 4 {
				idle += vals[4]
			}
			return total, idle, nil
		}
	}
	if err := s.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("cpu line not found")
}

func readMem(path string) (total, available uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "MemTotal:" {
			total, _ = strconv.ParseUint(fields[1], 10, 64)
			total *= 1024
		}
		if fields[0] == "MemAvailable:" {
			available, _ = strconv.ParseUint(fields[1], 10, 64)
			available *= 1024
		}
	}
	if total == 0 {
		return 0, 0, errors.New("meminfo parse failed")
	}
	return total, available, nil
}

func readDiskUsage(path string) (total, used uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	total = st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	used = total - free
	return total, used, nil
}
