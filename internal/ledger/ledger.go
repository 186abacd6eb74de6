package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

var (
	ErrDuplicateRecord = errors.New("ledger record already exists")
	ErrInvalidRecord   = errors.New("invalid ledger record")
)

// Record is the persisted projection of an accepted order, keyed by the
// (client id, exchange id) pair. Records are immutable once written; state
// transitions are modeled as delete-old/create-new, never in-place update.
type Record struct {
	ClientID  string           `json:"client_id"`
	OrderID   string           `json:"order_id"`
	Symbol    string           `json:"symbol"`
	Side      core.Side        `json:"side"`
	Price     decimal.Decimal  `json:"price"`
	Qty       decimal.Decimal  `json:"qty"`
	Delta     decimal.Decimal  `json:"delta"`
	Status    core.OrderStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

func FromOrder(order core.Order) Record {
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return Record{
		ClientID:  order.ClientID,
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Qty:       order.Qty,
		Delta:     order.Delta,
		Status:    order.Status,
		CreatedAt: createdAt,
	}
}

func (r Record) Key() string {
	return r.ClientID + "_" + r.OrderID
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" || strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: missing identifier pair", ErrInvalidRecord)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidRecord)
	}
	if r.Side != core.Buy && r.Side != core.Sell {
		return fmt.Errorf("%w: bad side %q", ErrInvalidRecord, r.Side)
	}
	if r.Price.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%w: price must be > 0", ErrInvalidRecord)
	}
	if r.Qty.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%w: qty must be > 0", ErrInvalidRecord)
	}
	if r.Delta.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%w: delta must be > 0", ErrInvalidRecord)
	}
	return nil
}

// Ledger is the durable store of open-order records and the sole authority
// for what orders exist. Nothing is cached between calls: every ListOpen
// re-reads the directory.
type Ledger struct {
	root string
	mu   sync.Mutex
}

func New(root string) (*Ledger, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(filepath.Join(root, "orders"), 0o755); err != nil {
		return nil, err
	}
	return &Ledger{root: root}, nil
}

func (l *Ledger) Insert(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	path := l.recordPath(rec.Key())
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.Key())
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeJSONAtomic(path, rec)
}

func (l *Ledger) Delete(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := os.Remove(l.recordPath(rec.Key()))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListOpen reads every record from disk. Order of the result is stable by
// key but carries no meaning.
func (l *Ledger) ListOpen() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := os.ReadDir(l.ordersDir())
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.ordersDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key() < records[j].Key() })
	return records, nil
}

type RuntimeStatus struct {
	Mode       string    `json:"mode"`
	Symbol     string    `json:"symbol"`
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastTickAt time.Time `json:"last_tick_at,omitempty"`
	OpenOrders int       `json:"open_orders"`
	LastError  string    `json:"last_error,omitempty"`
}

func (l *Ledger) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeJSONAtomic(l.runtimeStatusPath(), status)
}

func (l *Ledger) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(l.runtimeStatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

func (l *Ledger) Root() string { return l.root }

func (l *Ledger) ordersDir() string {
	return filepath.Join(l.root, "orders")
}

func (l *Ledger) recordPath(key string) string {
	return filepath.Join(l.ordersDir(), key+".json")
}

func (l *Ledger) runtimeStatusPath() string {
	return filepath.Join(l.root, "runtime_status.json")
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func fsyncDirBestEffort(dir, path string) error {
	// Best-effort directory fsync to improve rename durability across crashes.
	d, err := os.Open(dir)
	if err != nil {
		log.Printf(
			"level=WARN event=ledger_dir_fsync_skipped reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf(
			"level=WARN event=ledger_dir_fsync_failed reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	return nil
}
