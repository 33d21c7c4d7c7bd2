//go:build !linux && !darwin && !windows

package killswitch

func childProcesses(int) ([]int, error) { return nil, errChildrenUnsupported }
