package linker

import "runtime"

// hostArch names the architecture this binary itself was built for,
// used only as New's fallback default target (§4.6's "infers
// architecture if not set").
var hostArch = runtime.GOARCH

// hostParallelism implements §4.2's "min(cpuCount, fileCount)" half of
// the worker-pool sizing rule; NewParserPool clamps the other half.
func hostParallelism() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
