package killswitch

import "golang.org/x/sys/unix"

func childProcesses(pid int) ([]int, error) {
	procs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, err
	}
	var out []int
	for i := range procs {
		if int(procs[i].Eproc.Ppid) == pid {
			out = append(out, int(procs[i].Proc.P_pid))
		}
	}
	return out, nil
}
