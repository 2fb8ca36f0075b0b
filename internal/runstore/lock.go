package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const lockOwnerFile = "owner.json"

type Lock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// LockPath returns the lock directory guarding one output label.
func LockPath(runsDir, label string) string {
	return filepath.Join(runsDir, ".locks", label+".lock")
}

// AcquireLock creates lockDir exclusively. A second acquire fails until
// Release, unless the recorded owner ran on this host and has exited, in
// which case the lock is reclaimed.
func AcquireLock(lockDir, runID string) (Lock, error) {
	target := strings.TrimSpace(lockDir)
	if target == "" {
		return Lock{}, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Lock{}, fmt.Errorf("create lock parent for %s: %w", target, err)
	}

	err := os.Mkdir(target, 0o755)
	if err != nil && os.IsExist(err) && reclaimStaleLock(target) {
		err = os.Mkdir(target, 0o755)
	}
	if err != nil {
		if os.IsExist(err) {
			var owner lockOwner
			if readErr := ReadJSON(filepath.Join(target, lockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
				return Lock{}, fmt.Errorf(
					"output is locked by another launch: %s (pid=%d run_id=%s created_at=%s host=%s); remove the directory if that launch is gone",
					target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname,
				)
			}
			return Lock{}, fmt.Errorf("output is locked by another launch: %s; remove the directory if that launch is gone", target)
		}
		return Lock{}, fmt.Errorf("acquire lock %s: %w", target, err)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(target, lockOwnerFile), owner); err != nil {
		_ = os.Remove(target)
		return Lock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return Lock{dir: target}, nil
}

// reclaimStaleLock removes target when its owner is a dead process on this
// host. Owners on other hosts, or without a readable owner file, are kept.
func reclaimStaleLock(target string) bool {
	var owner lockOwner
	if err := ReadJSON(filepath.Join(target, lockOwnerFile), &owner); err != nil || owner.PID <= 0 {
		return false
	}
	if owner.Hostname != hostnameOrUnknown() || processAlive(owner.PID) {
		return false
	}
	_ = os.Remove(filepath.Join(target, lockOwnerFile))
	return os.Remove(target) == nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l Lock) Release() error {
	if strings.TrimSpace(l.dir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, lockOwnerFile))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
