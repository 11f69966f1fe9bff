package monitor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tidewatch/tidewatch/internal/models"
)

func collectSystemInfo() models.SystemInfo {
	info := models.SystemInfo{
		GoVersion: runtime.Version(),
		StartTime: time.Now(),
	}

	if h, err := host.Info(); err == nil {
		info.Platform = fmt.Sprintf("%s %s (%s)", h.Platform, h.PlatformVersion, h.KernelVersion)
	} else {
		info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if c, err := cpu.Counts(true); err == nil {
		info.CPUCount = c
	}
	if v, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = v.Total
	}
	return info
}
