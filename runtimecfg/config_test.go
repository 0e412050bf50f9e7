package runtimecfg

import "testing"

func TestDefaultConfigIsUsable(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NumWorkers <= 0 {
		t.Fatalf("expected positive NumWorkers, got %d", cfg.NumWorkers)
	}
	if cfg.DefaultRecv <= 0 || cfg.DefaultSend <= 0 {
		t.Fatal("expected positive default timeouts")
	}
	if cfg.NUMANode != -1 {
		t.Fatalf("expected NUMANode -1 (no pinning) by default, got %d", cfg.NUMANode)
	}
}
