package killswitch

import "errors"

var errChildrenUnsupported = errors.New("child process discovery is not supported on this platform")

// Processes inspects and terminates operating system processes.
type Processes interface {
	Alive(pid int) bool
	Terminate(pid int) error
	// Children returns the direct children of pid.
	Children(pid int) ([]int, error)
}

// OSProcesses is the native Processes implementation.
type OSProcesses struct{}

func (OSProcesses) Alive(pid int) bool              { return processAlive(pid) }
func (OSProcesses) Terminate(pid int) error         { return terminateProcess(pid) }
func (OSProcesses) Children(pid int) ([]int, error) { return childProcesses(pid) }

// descendants walks the process tree below roots breadth first.
func descendants(p Processes, roots []int) ([]int, error) {
	seen := make(map[int]struct{}, len(roots))
	for _, r := range roots {
		seen[r] = struct{}{}
	}
	var out []int
	var errs []error
	queue := append([]int(nil), roots...)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		kids, err := p.Children(pid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range kids {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out, errors.Join(errs...)
}
