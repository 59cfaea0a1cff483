package docker

// Counters are the raw resource counters of one container reading.
type Counters struct {
	CPUDelta    float64
	SystemDelta float64
	Cores       float64
	MemUsage    uint64
	MemLimit    uint64
}

func NormalizeStats(s Stats) Counters {
	cores := float64(s.CPUStats.OnlineCPUs)
	if cores == 0 {
		cores = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		if cores == 0 {
			cores = 1
		}
	}
	return Counters{
		CPUDelta:    float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage),
		SystemDelta: float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage),
		Cores:       cores,
		MemUsage:    s.MemoryStats.Usage,
		MemLimit:    s.MemoryStats.Limit,
	}
}
