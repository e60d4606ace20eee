package lwm2m

import "testing"

func TestNegotiateFormatPrefersLwM2MCBORForMultipleEntries(t *testing.T) {
	enabled := map[ContentFormat]CodecAdapter{
		FormatSenMLCBOR: nil,
		FormatLwM2MCBOR: nil,
	}
	got, ok := NegotiateFormat([]ContentFormat{FormatSenMLCBOR, FormatLwM2MCBOR}, enabled, 3)
	if !ok || got != FormatLwM2MCBOR {
		t.Fatalf("expected LwM2M-CBOR for multi-entry payload, got %v ok=%v", got, ok)
	}
}

func TestNegotiateFormatFallsBackWhenNotSupported(t *testing.T) {
	enabled := map[ContentFormat]CodecAdapter{FormatSenMLCBOR: nil}
	got, ok := NegotiateFormat([]ContentFormat{FormatLwM2MCBOR, FormatSenMLCBOR}, enabled, 5)
	if !ok || got != FormatSenMLCBOR {
		t.Fatalf("expected fallback to SenML-CBOR, got %v ok=%v", got, ok)
	}
}

func TestNegotiateFormatNoIntersection(t *testing.T) {
	enabled := map[ContentFormat]CodecAdapter{FormatText: nil}
	if _, ok := NegotiateFormat([]ContentFormat{FormatOpaque}, enabled, 1); ok {
		t.Fatalf("expected no format to negotiate")
	}
}
