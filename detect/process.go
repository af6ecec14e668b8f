package detect

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const maxParentDepth = 10

// parentChain walks the parent process chain and returns the process
// names, nearest first. Best effort: an empty chain just means no
// process evidence.
func parentChain(depth int) []string {
	var names []string
	pid := os.Getppid()
	for i := 0; i < depth && pid > 1; i++ {
		name, ppid, ok := procInfo(pid)
		if !ok {
			break
		}
		names = append(names, name)
		pid = ppid
	}
	return names
}

// procInfo returns the name and parent pid of pid, via /proc when
// available, falling back to ps.
func procInfo(pid int) (name string, ppid int, ok bool) {
	if name, ppid, ok = procInfoFromProcfs(pid); ok {
		return name, ppid, true
	}
	return procInfoFromPS(pid)
}

func procInfoFromProcfs(pid int) (string, int, bool) {
	comm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", 0, false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", 0, false
	}
	// stat: pid (comm) state ppid ... and comm may contain spaces, so
	// split after the closing paren.
	s := string(stat)
	close := strings.LastIndexByte(s, ')')
	if close < 0 {
		return "", 0, false
	}
	fields := strings.Fields(s[close+1:])
	if len(fields) < 2 {
		return "", 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(string(comm)), ppid, true
}

func procInfoFromPS(pid int) (string, int, bool) {
	out, err := exec.Command("ps", "-o", "comm=,ppid=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", 0, false
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return "", 0, false
	}
	ppid, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return "", 0, false
	}
	name := filepath.Base(strings.Join(fields[:len(fields)-1], " "))
	return name, ppid, true
}
