package gpu

import "testing"

func TestAccelInstancePacking(t *testing.T) {
	in := AccelInstance{
		Transform:   [12]float32{1, 0, 0, 5, 0, 1, 0, 6, 0, 0, 1, 7},
		CustomIndex: 0xABCDE,
		Mask:        0xFF,
		Flags:       InstanceTriangleCullDisable,
		BLASAddress: 0xDEADBEEF000,
	}
	b, err := AppendAccelInstance(nil, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(b) != AccelInstanceSize {
		t.Fatalf("expected %d bytes, got %d", AccelInstanceSize, len(b))
	}
	// mask shares the word with the custom index and sits in the top byte.
	if b[51] != 0xFF {
		t.Errorf("expected mask in byte 51, got %#x", b[51])
	}

	out := DecodeAccelInstances(b)
	if len(out) != 1 || out[0] != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestAccelInstanceCustomIndexOverflow(t *testing.T) {
	if _, err := AppendAccelInstance(nil, AccelInstance{CustomIndex: MaxCustomIndex + 1}); err == nil {
		t.Error("expected an error for a custom index wider than 24 bits")
	}
}
