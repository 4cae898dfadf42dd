package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

// LoadSPIRV reads a compiled shader module from disk.
func LoadSPIRV(path string) ([]uint32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := SPIRVFromBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// SPIRVFromBytes converts a little-endian SPIR-V byte stream into words.
func SPIRVFromBytes(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, fmt.Errorf("spir-v stream of %d bytes is not a whole number of words", len(b))
	}
	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if code[0] != SPIRVMagic {
		return nil, fmt.Errorf("bad spir-v magic %#08x", code[0])
	}
	return code, nil
}
