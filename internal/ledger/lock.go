package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const lockFileName = ".instance.lock"

// LockOwner identifies the reconciler writing the lock. It is persisted in
// the lock payload so a refusal or takeover can name who held the state dir.
type LockOwner struct {
	Mode       string `json:"mode,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// lockPayload is the JSON document inside the lock file, same encoding as
// every other file the ledger writes.
type lockPayload struct {
	LockOwner
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (p lockPayload) describe() string {
	parts := []string{fmt.Sprintf("pid=%d", p.PID)}
	if p.InstanceID != "" {
		parts = append(parts, "instance="+p.InstanceID)
	}
	if p.Symbol != "" {
		parts = append(parts, "symbol="+p.Symbol)
	}
	if p.Mode != "" {
		parts = append(parts, "mode="+p.Mode)
	}
	if !p.StartedAt.IsZero() {
		parts = append(parts, "started_at="+p.StartedAt.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, " ")
}

// InstanceLock serializes reconcilers on a state dir. The scheduler contract
// assumes at most one reconciliation pass is logically active; the lock is
// what enforces that assumption across processes.
type InstanceLock struct {
	path string
}

type LockOptions struct {
	TakeoverEnabled bool
	StaleAfter      time.Duration
	Owner           LockOwner

	// Test seam; production uses the wall clock.
	Now func() time.Time
}

func AcquireInstanceLock(root string) (*InstanceLock, error) {
	return AcquireInstanceLockWithOptions(root, LockOptions{})
}

func AcquireInstanceLockWithOptions(root string, opts LockOptions) (*InstanceLock, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	path := filepath.Join(root, lockFileName)
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	for attempts := 0; attempts < 3; attempts++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if writeErr := writeLockPayload(f, opts.Owner, nowFn().UTC()); writeErr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, writeErr
			}
			if closeErr := f.Close(); closeErr != nil {
				_ = os.Remove(path)
				return nil, closeErr
			}
			return &InstanceLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		holder, takeover, reason, inspectErr := inspectLock(path, nowFn().UTC(), opts.StaleAfter)
		if inspectErr != nil {
			return nil, fmt.Errorf("instance lock exists: %s (inspect failed: %v)", path, inspectErr)
		}
		if !opts.TakeoverEnabled {
			return nil, fmt.Errorf("instance lock exists: %s (takeover disabled, holder %s)", path, holder.describe())
		}
		if !takeover {
			return nil, fmt.Errorf("instance lock exists: %s (%s, holder %s)", path, reason, holder.describe())
		}
		log.Printf(
			"level=WARN event=ledger_lock_takeover reason=%s holder=%q path=%q",
			reason,
			holder.describe(),
			path,
		)
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, removeErr
		}
	}
	return nil, fmt.Errorf("instance lock exists: %s", path)
}

func writeLockPayload(f *os.File, owner LockOwner, now time.Time) error {
	payload := lockPayload{
		LockOwner: owner,
		PID:       os.Getpid(),
		StartedAt: now.UTC(),
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return err
	}
	return f.Sync()
}

// inspectLock decides whether an existing lock may be taken over. A live
// owner process always wins; with no verifiable owner the lock falls back to
// the age threshold.
func inspectLock(path string, now time.Time, staleAfter time.Duration) (lockPayload, bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lockPayload{}, true, "lock_disappeared", nil
		}
		return lockPayload{}, false, "", err
	}
	var holder lockPayload
	if err := json.Unmarshal(data, &holder); err != nil {
		// An undecodable lock can never be validated, so it counts as
		// abandoned.
		return lockPayload{}, true, "unreadable_lock", nil
	}

	if holder.PID > 0 {
		if isProcessAlive(holder.PID) {
			return holder, false, "owner_process_running", nil
		}
		return holder, true, "owner_process_not_running", nil
	}

	if holder.StartedAt.IsZero() {
		return holder, false, "missing_lock_owner_info", nil
	}
	if staleAfter > 0 && now.UTC().Sub(holder.StartedAt.UTC()) >= staleAfter {
		return holder, true, "lock_age_exceeded", nil
	}
	return holder, false, "lock_not_stale", nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}

func (l *InstanceLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}
