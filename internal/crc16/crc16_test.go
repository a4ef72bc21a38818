package crc16

import "testing"

func TestComputeKnownVector(t *testing.T) {
	// poly 0x1021, init 0xFFFF, non-reflected, xorout 0xFFFF (the ETSI FIB/EDI/ETI variant).
	got := Compute([]byte("123456789"))
	if got != 0xD64E {
		t.Errorf("Compute: got 0x%04X, want 0xD64E", got)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	crc := Compute(data)
	full := append(append([]byte{}, data...), byte(crc>>8), byte(crc))

	if err := Verify(full); err != nil {
		t.Errorf("Verify: unexpected error: %v", err)
	}

	full[0] ^= 0xFF
	if err := Verify(full); err == nil {
		t.Error("Verify: expected mismatch error for corrupted data")
	}
}

func TestVerifyTooShort(t *testing.T) {
	if err := Verify([]byte{0x01}); err == nil {
		t.Error("Verify: expected error for too-short input")
	}
}
