package lwm2m

import "testing"

func TestDiscoverCacheRoundTrip(t *testing.T) {
	c, err := NewDiscoverCache()
	if err != nil {
		t.Fatalf("NewDiscoverCache: %v", err)
	}
	defer c.Close()

	payload := []byte(`</1>;rt="oma.lwm2m",</3>`)
	c.Snapshot(7, payload)

	got, ok := c.Link(7)
	if !ok {
		t.Fatalf("expected a cached link for shape 7")
	}
	if string(got) != string(payload) {
		t.Fatalf("Link roundtrip = %q, want %q", got, payload)
	}
}

func TestDiscoverCacheInvalidatedByShapeChange(t *testing.T) {
	c, err := NewDiscoverCache()
	if err != nil {
		t.Fatalf("NewDiscoverCache: %v", err)
	}
	defer c.Close()

	c.Snapshot(1, []byte("</1>"))
	if _, ok := c.Link(2); ok {
		t.Fatalf("expected cache miss after shape change")
	}
}
