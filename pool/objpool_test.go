package pool

import "testing"

func TestSyncPoolReusesPutObjects(t *testing.T) {
	created := 0
	p := NewSyncPool(func() *int {
		created++
		v := 0
		return &v
	})

	a := p.Get()
	*a = 42
	p.Put(a)

	b := p.Get()
	if created != 1 {
		t.Fatalf("expected creator called once, got %d", created)
	}
	if b != a {
		t.Fatal("expected Get to return the put-back object")
	}
}

func TestNewBufferPoolSizesSlices(t *testing.T) {
	bp := NewBufferPool(128)
	buf := bp.Get()
	if len(buf) != 128 {
		t.Fatalf("expected buffer of length 128, got %d", len(buf))
	}
	bp.Put(buf)
}
