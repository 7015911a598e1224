//go:build !unix

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Debug probes for platforms without rlimits.

package control

import "runtime"

// RegisterPlatformProbes sets platform debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
