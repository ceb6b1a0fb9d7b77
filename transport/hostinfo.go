package transport

import (
	"os"
	"runtime"

	"github.com/openclaw/gatelink/wire"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// collectHostInfo gathers the host description reported in the connect
// handshake. Every field is best-effort; a probe failure never blocks the
// connection.
func collectHostInfo() wire.HostInfo {
	info := wire.HostInfo{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.Info(); err == nil {
		if hi.Hostname != "" {
			info.Hostname = hi.Hostname
		}
		info.Platform = hi.Platform
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
	}
	return info
}
