package val

import "testing"

func TestCountGpuLines(t *testing.T) {
	out := "GPU[0]\t\t: GPU ID: 0x1\nGPU[1]\t\t: GPU ID: 0x2\nGPU[0]\t\t: PCI Bus: 0000:01:00.0\n"
	if got := countGpuLines(out); got != 2 {
		t.Fatalf("expected 2 unique GPU lines, got %d", got)
	}
}

func TestFirstFloatAfter(t *testing.T) {
	out := "GPU[0]\t\t: GPU use (%): 42\n"
	v, ok := firstFloatAfter(out, "GPU use")
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %v ok=%v", v, ok)
	}
}

func TestFirstFloatAfter_NoMatch(t *testing.T) {
	_, ok := firstFloatAfter("nothing relevant here", "GPU use")
	if ok {
		t.Fatal("expected no match")
	}
}

func TestFirstNonEmptyAfter(t *testing.T) {
	out := "GPU[0]\t\t: Card series: Radeon RX 7900\n"
	v, ok := firstNonEmptyAfter(out, "Card series")
	if !ok || v != "Radeon RX 7900" {
		t.Fatalf("expected 'Radeon RX 7900', got %q ok=%v", v, ok)
	}
}
