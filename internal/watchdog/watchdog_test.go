package watchdog

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"liftfleet/internal/order"
)

type fakeReinjector struct {
	mu        sync.Mutex
	reinjected []order.Order
}

func (r *fakeReinjector) Reinject(o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reinjected = append(r.reinjected, o)
	return nil
}

func (r *fakeReinjector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reinjected)
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestWatchdog(timeout time.Duration) (*Watchdog, *fakeReinjector) {
	r := &fakeReinjector{}
	w := New("A", timeout, r, nil, testLogger())
	return w, r
}

func TestNewOrderArmsTimerAndReinjectsOnExpiry(t *testing.T) {
	w, r := newTestWatchdog(20 * time.Millisecond)
	go w.Run(context.Background())

	o := order.Order{ID: order.ID{Node: "B", Seq: 1}, Floor: 1, ButtonType: order.HallUp, Node: "B", Time: time.Now()}
	if err := w.NewOrder(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.count() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected reinjection after timer expiry")
}

func TestOrderCompleteCancelsTimer(t *testing.T) {
	w, r := newTestWatchdog(20 * time.Millisecond)
	go w.Run(context.Background())

	o := order.Order{ID: order.ID{Node: "B", Seq: 1}, Floor: 1, ButtonType: order.HallUp, Node: "B", Time: time.Now()}
	if err := w.NewOrder(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.OrderComplete(o)

	time.Sleep(100 * time.Millisecond)
	if r.count() != 0 {
		t.Fatalf("expected no reinjection after completion, got %d", r.count())
	}
}

func TestPeerDownMovesCabToStandbyAndReinjectsHall(t *testing.T) {
	w, r := newTestWatchdog(time.Second)
	go w.Run(context.Background())

	hall := order.Order{ID: order.ID{Node: "B", Seq: 1}, Floor: 1, ButtonType: order.HallUp, Node: "B", Time: time.Now()}
	cab := order.Order{ID: order.ID{Node: "B", Seq: 2}, Floor: 2, ButtonType: order.Cab, Node: "B", Time: time.Now()}
	if err := w.NewOrder(hall); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.NewOrder(cab); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.PeerEvent("B", false)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.count() >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.count() != 1 {
		t.Fatalf("expected exactly the hall order reinjected, got %d reinjections", r.count())
	}
}

func TestPeerUpReplaysStandbyOrdersForThatPeer(t *testing.T) {
	w, r := newTestWatchdog(time.Second)
	go w.Run(context.Background())

	cab := order.Order{ID: order.ID{Node: "B", Seq: 1}, Floor: 2, ButtonType: order.Cab, Node: "B", Time: time.Now()}
	if err := w.NewOrder(cab); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.PeerEvent("B", false)
	time.Sleep(20 * time.Millisecond)

	w.PeerEvent("B", true)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.count() >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected standby cab order to be reinjected on peer-up")
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	store := NewFileStore(path)

	st := State{
		Active: []BackupEntry{{
			Order:    order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 1, ButtonType: order.HallUp, Node: "A", Time: time.Now()},
			Deadline: time.Now().Add(time.Minute),
		}},
	}
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Active) != 1 || loaded.Active[0].Order.ID != st.Active[0].Order.ID {
		t.Fatalf("expected round-tripped active entry, got %+v", loaded)
	}
}

func TestFileStoreLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	st, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Active) != 0 || len(st.Standby) != 0 {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestBootFiltersStaleActiveEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	store := NewFileStore(path)

	fresh := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 1, ButtonType: order.HallUp, Node: "A", Time: time.Now()}
	stale := order.Order{ID: order.ID{Node: "A", Seq: 2}, Floor: 2, ButtonType: order.HallUp, Node: "A", Time: time.Now().Add(-200 * time.Second)}

	st := State{Active: []BackupEntry{
		{Order: fresh, Deadline: time.Now().Add(time.Minute)},
		{Order: stale, Deadline: time.Now().Add(time.Minute)},
	}}
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	w := New("A", time.Second, &fakeReinjector{}, store, testLogger())
	if err := w.Boot(); err != nil {
		t.Fatalf("boot: %v", err)
	}

	if _, ok := w.active[fresh.ID]; !ok {
		t.Fatal("expected fresh entry to survive boot")
	}
	if _, ok := w.active[stale.ID]; ok {
		t.Fatal("expected stale entry to be dropped on boot")
	}
}
