package persist

import "testing"

func TestWriterReaderRoundTripServerObjectFields(t *testing.T) {
	w := NewWriter()
	w.WriteUint(0)           // Short Server ID
	w.WriteInt(86400)        // Lifetime
	w.WriteString("U")       // Binding
	w.WriteBool(false)       // Notification storing
	w.WriteFloat(1.5)        // Default min period
	w.WriteBytes([]byte{1, 2, 3})

	data, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ssid, err := r.ReadUint(); err != nil || ssid != 0 {
		t.Fatalf("ReadUint: %v %v", ssid, err)
	}
	if lifetime, err := r.ReadInt(); err != nil || lifetime != 86400 {
		t.Fatalf("ReadInt: %v %v", lifetime, err)
	}
	if binding, err := r.ReadString(); err != nil || binding != "U" {
		t.Fatalf("ReadString: %v %v", binding, err)
	}
	if storing, err := r.ReadBool(); err != nil || storing != false {
		t.Fatalf("ReadBool: %v %v", storing, err)
	}
	if period, err := r.ReadFloat(); err != nil || period != 1.5 {
		t.Fatalf("ReadFloat: %v %v", period, err)
	}
	b, err := r.ReadBytes()
	if err != nil || len(b) != 3 || b[0] != 1 || b[2] != 3 {
		t.Fatalf("ReadBytes: %v %v", b, err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	if _, err := Open([]byte{0, 0, 0, 0, 1}); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	if _, err := Open([]byte{1, 2}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderRejectsFieldTypeMismatch(t *testing.T) {
	w := NewWriter()
	w.WriteInt(5)
	data, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	r, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.ReadString(); err == nil {
		t.Fatalf("expected a tag mismatch error reading a string where an int was written")
	}
}
