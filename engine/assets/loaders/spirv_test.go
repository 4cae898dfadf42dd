package loaders

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func words(w ...uint32) []byte {
	b := make([]byte, 0, len(w)*4)
	for _, x := range w {
		b = binary.LittleEndian.AppendUint32(b, x)
	}
	return b
}

func TestSPIRVFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		words   int
		wantErr bool
	}{
		{"module", words(SPIRVMagic, 0x00010500, 0, 12, 0), 5, false},
		{"empty", nil, 0, true},
		{"partial word", append(words(SPIRVMagic), 1, 2), 0, true},
		{"wrong magic", words(0x03022307, 1), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := SPIRVFromBytes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if len(code) != tt.words {
				t.Errorf("expected %d words, got %d", tt.words, len(code))
			}
		})
	}
}

func TestLoadSPIRV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raster.vert.spv")
	if err := os.WriteFile(path, words(SPIRVMagic, 7), 0o644); err != nil {
		t.Fatalf("failed to write module: %v", err)
	}
	code, err := LoadSPIRV(path)
	if err != nil {
		t.Fatalf("LoadSPIRV: %v", err)
	}
	if code[1] != 7 {
		t.Errorf("expected second word 7, got %d", code[1])
	}
	if _, err := LoadSPIRV(filepath.Join(t.TempDir(), "missing.spv")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
