package gpu

import (
	"encoding/binary"
	"fmt"
	m "math"
)

// AccelInstanceSize is the packed size of one top-level instance record.
const AccelInstanceSize = 64

// MaxCustomIndex is the largest value the 24-bit custom index field can hold.
const MaxCustomIndex = 1<<24 - 1

// InstanceFlags are per-instance build flags.
type InstanceFlags uint8

const (
	InstanceTriangleCullDisable InstanceFlags = 0x1
	InstanceForceOpaque         InstanceFlags = 0x4
)

// AccelInstance is one entry of a top-level structure: a row-major 3x4 object-to-world
// transform, a 24-bit custom index, an 8-bit visibility mask, a 24-bit binding table
// offset, 8 bits of flags and the device address of the referenced bottom-level structure.
type AccelInstance struct {
	Transform   [12]float32
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       InstanceFlags
	BLASAddress uint64
}

// AppendAccelInstance packs inst the way the device reads it.
func AppendAccelInstance(b []byte, inst AccelInstance) ([]byte, error) {
	if inst.CustomIndex > MaxCustomIndex {
		return b, fmt.Errorf("custom index %d does not fit in 24 bits", inst.CustomIndex)
	}
	if inst.SBTOffset > MaxCustomIndex {
		return b, fmt.Errorf("binding table offset %d does not fit in 24 bits", inst.SBTOffset)
	}
	for _, f := range inst.Transform {
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(f))
	}
	b = binary.LittleEndian.AppendUint32(b, inst.CustomIndex|uint32(inst.Mask)<<24)
	b = binary.LittleEndian.AppendUint32(b, inst.SBTOffset|uint32(inst.Flags)<<24)
	b = binary.LittleEndian.AppendUint64(b, inst.BLASAddress)
	return b, nil
}

// DecodeAccelInstances unpacks records written by AppendAccelInstance.
func DecodeAccelInstances(b []byte) []AccelInstance {
	out := make([]AccelInstance, 0, len(b)/AccelInstanceSize)
	for off := 0; off+AccelInstanceSize <= len(b); off += AccelInstanceSize {
		r := b[off : off+AccelInstanceSize]
		var inst AccelInstance
		for i := range inst.Transform {
			inst.Transform[i] = m.Float32frombits(binary.LittleEndian.Uint32(r[i*4:]))
		}
		w0 := binary.LittleEndian.Uint32(r[48:])
		w1 := binary.LittleEndian.Uint32(r[52:])
		inst.CustomIndex = w0 & MaxCustomIndex
		inst.Mask = uint8(w0 >> 24)
		inst.SBTOffset = w1 & MaxCustomIndex
		inst.Flags = InstanceFlags(w1 >> 24)
		inst.BLASAddress = binary.LittleEndian.Uint64(r[56:])
		out = append(out, inst)
	}
	return out
}
