package admin

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ProcFS reads thread groups from a proc filesystem.
type ProcFS struct {
	// Root is the mount point, normally /proc.
	Root string
}

func NewProcFS() ProcFS { return ProcFS{Root: "/proc"} }

func (p ProcFS) Self() int { return os.Getpid() }

// Leader parses the Tgid line of /proc/<pid>/status.
func (p ProcFS) Leader(pid int) (int, error) {
	f, err := os.Open(filepath.Join(p.Root, strconv.Itoa(pid), "status"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
		}
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Tgid:") {
			continue
		}
		tgid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Tgid:")))
		if err != nil {
			return 0, fmt.Errorf("parse tgid of %d: %w", pid, err)
		}
		return tgid, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no tgid for pid %d: %w", pid, ErrNotFound)
}

// Threads lists /proc/<leader>/task in ascending order.
func (p ProcFS) Threads(leader int) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(p.Root, strconv.Itoa(leader), "task"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("task %d: %w", leader, ErrNotFound)
		}
		return nil, err
	}

	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids, nil
}
