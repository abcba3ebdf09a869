// Package hostinfo probes the local CPU to pick thread defaults and to warn
// about mixed precision on hosts without reduced-precision support.
package hostinfo

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Info summarises the host CPU.
type Info struct {
	Brand         string
	LogicalCores  int
	PhysicalCores int
	// BF16 and FP16 report native reduced-precision arithmetic.
	BF16 bool
	FP16 bool
}

// Probe inspects the running CPU.
func Probe() Info {
	info := Info{
		Brand:         cpuid.CPU.BrandName,
		LogicalCores:  cpuid.CPU.LogicalCores,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		BF16:          cpuid.CPU.Supports(cpuid.AVX512BF16) || cpuid.CPU.Supports(cpuid.AMXBF16),
		FP16:          cpuid.CPU.Supports(cpuid.AVX512FP16),
	}
	// cpuid reports 0 on platforms it cannot inspect.
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	if info.PhysicalCores <= 0 {
		info.PhysicalCores = info.LogicalCores
	}
	return info
}

// ReducedPrecision reports whether mixed precision can run natively on CPU.
func (i Info) ReducedPrecision() bool {
	return i.BF16 || i.FP16
}

// Threads resolves a requested thread count; requested <= 0 means all logical
// cores.
func (i Info) Threads(requested int) int {
	if requested > 0 {
		return requested
	}
	return i.LogicalCores
}
