package latin1

import "testing"

func TestToUTF8TrimsPadding(t *testing.T) {
	label := []byte("WDR RADIO       ") // 16 bytes, space-padded
	got := ToUTF8(label[:16])
	if got != "WDR RADIO" {
		t.Errorf("ToUTF8: got %q, want %q", got, "WDR RADIO")
	}
}

func TestToUTF8HighBytes(t *testing.T) {
	// 0xE9 is 'é' in ISO-8859-1; expect the two-byte UTF-8 encoding 0xC3 0xA9.
	label := []byte{'c', 0xE9, ' ', ' '}
	got := ToUTF8(label)
	want := "cé"
	if got != want {
		t.Errorf("ToUTF8: got %q (% x), want %q", got, []byte(got), want)
	}
}

func TestToUTF8AllASCIIIsIdempotent(t *testing.T) {
	for b := 0; b < 0x80; b++ {
		// A trailing non-padding byte keeps NUL and space from being trimmed.
		got := ToUTF8([]byte{byte(b), 'x'})
		if len(got) != 2 || got[0] != byte(b) || got[1] != 'x' {
			t.Fatalf("ToUTF8(%#x): got %q", b, got)
		}
	}
}
