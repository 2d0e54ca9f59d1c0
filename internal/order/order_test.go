package order

import (
	"testing"
	"time"
)

func TestValidRejectsHallUpAtTopFloor(t *testing.T) {
	if err := Valid(NumFloors-1, HallUp); err == nil {
		t.Fatalf("expected error for hall_up at top floor")
	}
}

func TestValidRejectsHallDownAtBottomFloor(t *testing.T) {
	if err := Valid(0, HallDown); err == nil {
		t.Fatalf("expected error for hall_down at bottom floor")
	}
}

func TestValidAcceptsCabAnyFloor(t *testing.T) {
	for f := 0; f < NumFloors; f++ {
		if err := Valid(f, Cab); err != nil {
			t.Fatalf("cab order at floor %d should be legal: %v", f, err)
		}
	}
}

func TestIDGeneratorMonotonic(t *testing.T) {
	g := NewIDGenerator("A")
	first := g.NextID()
	second := g.NextID()
	if first == second {
		t.Fatalf("expected distinct ids, got %v twice", first)
	}
	if first.Node != "A" || second.Node != "A" {
		t.Fatalf("expected node A on both ids")
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Seq, second.Seq)
	}
}

func TestNewRejectsIllegalOrder(t *testing.T) {
	g := NewIDGenerator("A")
	if _, err := g.New(NumFloors-1, HallUp, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
