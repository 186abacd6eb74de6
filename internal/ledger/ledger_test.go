package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

func testRecord(clientID, orderID string) Record {
	return Record{
		ClientID:  clientID,
		OrderID:   orderID,
		Symbol:    "ETHUSDT",
		Side:      core.Buy,
		Price:     decimal.RequireFromString("1970.00"),
		Qty:       decimal.RequireFromString("0.0137"),
		Delta:     decimal.RequireFromString("1.5"),
		Status:    core.OrderNew,
		CreatedAt: time.Now().UTC(),
	}
}

func TestLedgerInsertListDelete(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := testRecord("cid-a", "1")
	b := testRecord("cid-b", "2")
	if err := l.Insert(a); err != nil {
		t.Fatalf("Insert(a) error = %v", err)
	}
	if err := l.Insert(b); err != nil {
		t.Fatalf("Insert(b) error = %v", err)
	}

	records, err := l.ListOpen()
	if err != nil {
		t.Fatalf("ListOpen() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListOpen() len = %d, want 2", len(records))
	}
	if !records[0].Price.Equal(a.Price) || !records[0].Delta.Equal(a.Delta) {
		t.Fatalf("record fields not preserved: %+v", records[0])
	}

	if err := l.Delete(a); err != nil {
		t.Fatalf("Delete(a) error = %v", err)
	}
	records, err = l.ListOpen()
	if err != nil {
		t.Fatalf("ListOpen() after delete error = %v", err)
	}
	if len(records) != 1 || records[0].Key() != b.Key() {
		t.Fatalf("unexpected records after delete: %+v", records)
	}
}

func TestLedgerInsertDuplicateRejected(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := testRecord("cid-a", "1")
	if err := l.Insert(rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := l.Insert(rec); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("Insert() duplicate error = %v, want %v", err, ErrDuplicateRecord)
	}
}

func TestLedgerInsertValidatesRecord(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	bad := testRecord("cid-a", "1")
	bad.Price = decimal.Zero
	if err := l.Insert(bad); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Insert() zero price error = %v, want %v", err, ErrInvalidRecord)
	}

	bad = testRecord("cid-a", "")
	if err := l.Insert(bad); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Insert() missing order id error = %v, want %v", err, ErrInvalidRecord)
	}

	bad = testRecord("cid-a", "1")
	bad.Side = "SHORT"
	if err := l.Insert(bad); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Insert() bad side error = %v, want %v", err, ErrInvalidRecord)
	}
}

func TestLedgerDeleteMissingIsNoop(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Delete(testRecord("cid-a", "1")); err != nil {
		t.Fatalf("Delete() missing record error = %v", err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Insert(testRecord("cid-a", "1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	records, err := reopened.ListOpen()
	if err != nil {
		t.Fatalf("ListOpen() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListOpen() after reopen len = %d, want 1", len(records))
	}
}

func TestRuntimeStatusRoundTrip(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	in := RuntimeStatus{
		Mode:       "testnet",
		Symbol:     "ETHUSDT",
		InstanceID: "bot1",
		PID:        1234,
		State:      "running",
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		OpenOrders: 7,
	}
	if err := l.SaveRuntimeStatus(in); err != nil {
		t.Fatalf("SaveRuntimeStatus() error = %v", err)
	}
	out, ok, err := l.LoadRuntimeStatus()
	if err != nil {
		t.Fatalf("LoadRuntimeStatus() error = %v", err)
	}
	if !ok {
		t.Fatalf("LoadRuntimeStatus() ok = false, want true")
	}
	if out.State != in.State || out.OpenOrders != in.OpenOrders || out.InstanceID != in.InstanceID {
		t.Fatalf("LoadRuntimeStatus() mismatch: got %+v want %+v", out, in)
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at should be set")
	}
}
