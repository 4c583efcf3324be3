//go:build !linux

package affinity

import "runtime"

func pinPlatform(int) error {
	return ErrUnsupported
}

func allowedPlatform() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
