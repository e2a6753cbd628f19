package cpu

import xcpu "golang.org/x/sys/cpu"

var (
	cpuidFn = ID

	// x86Features is used by tests to override the detected feature set.
	x86Features = &xcpu.X86
)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// Features returns the names of the instruction set extensions that were
// detected on the running CPU.
func Features() []string {
	var (
		f     = x86Features
		names []string
		specs = []struct {
			name string
			has  bool
		}{
			{"sse2", f.HasSSE2},
			{"sse3", f.HasSSE3},
			{"ssse3", f.HasSSSE3},
			{"sse4.1", f.HasSSE41},
			{"sse4.2", f.HasSSE42},
			{"popcnt", f.HasPOPCNT},
			{"aes", f.HasAES},
			{"pclmulqdq", f.HasPCLMULQDQ},
			{"avx", f.HasAVX},
			{"avx2", f.HasAVX2},
			{"bmi1", f.HasBMI1},
			{"bmi2", f.HasBMI2},
			{"erms", f.HasERMS},
			{"rdrand", f.HasRDRAND},
		}
	)

	for _, spec := range specs {
		if spec.has {
			names = append(names, spec.name)
		}
	}
	return names
}
