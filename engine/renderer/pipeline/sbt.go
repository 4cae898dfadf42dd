package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// sbtLayout is where every group lands inside the binding table buffer.
type sbtLayout struct {
	handleSize   uint64
	handleStride uint64
	raygen       gpu.StridedRegion
	miss         gpu.StridedRegion
	hit          gpu.StridedRegion
}

// computeSBTLayout places raygen, miss and hit regions back to back. Each region starts on
// the base alignment, records are handle-aligned and raygen holds exactly one record whose
// size equals its stride.
func computeSBTLayout(props gpu.RayTracingProperties, missCount, hitCount uint32) sbtLayout {
	handleSize := uint64(props.HandleSize)
	stride := math.AlignUp(handleSize, uint64(props.HandleAlignment))
	base := uint64(props.BaseAlignment)

	l := sbtLayout{handleSize: handleSize, handleStride: stride}
	raygen := math.AlignUp(stride, base)
	l.raygen = gpu.StridedRegion{Stride: raygen, Size: raygen}
	l.miss = gpu.StridedRegion{Address: raygen, Stride: stride, Size: math.AlignUp(uint64(missCount)*stride, base)}
	l.hit = gpu.StridedRegion{Address: raygen + l.miss.Size, Stride: stride, Size: math.AlignUp(uint64(hitCount)*stride, base)}
	return l
}

func (l sbtLayout) size() uint64 {
	return l.raygen.Size + l.miss.Size + l.hit.Size
}

// SBT is a shader binding table: the group handles of one ray-tracing pipeline laid out in
// a device-addressable buffer.
type SBT struct {
	buffer   gpu.Buffer
	Raygen   gpu.StridedRegion
	Miss     gpu.StridedRegion
	Hit      gpu.StridedRegion
	Callable gpu.StridedRegion
}

// newSBT fetches the handles of p (raygen, missCount miss groups, hitCount hit groups in that
// order) and writes them into a new buffer.
func newSBT(dev Device, p gpu.Pipeline, missCount, hitCount uint32) (*SBT, error) {
	props := dev.RayTracingProperties()
	l := computeSBTLayout(props, missCount, hitCount)
	groups := 1 + missCount + hitCount

	handles, err := dev.ShaderGroupHandles(p, 0, groups)
	if err != nil {
		return nil, gpu.Fatal("get shader group handles", err)
	}
	if uint64(len(handles)) != uint64(groups)*l.handleSize {
		return nil, gpu.Fatal("get shader group handles", fmt.Errorf("got %d bytes for %d groups", len(handles), groups))
	}

	data := make([]byte, l.size())
	handle := func(i uint32) []byte { return handles[uint64(i)*l.handleSize : uint64(i+1)*l.handleSize] }
	copy(data[l.raygen.Address:], handle(0))
	for i := uint32(0); i < missCount; i++ {
		copy(data[l.miss.Address+uint64(i)*l.handleStride:], handle(1+i))
	}
	for i := uint32(0); i < hitCount; i++ {
		copy(data[l.hit.Address+uint64(i)*l.handleStride:], handle(1+missCount+i))
	}

	buf, err := dev.CreateBuffer(gpu.BufferDesc{
		Label:  core.NewLabel("sbt"),
		Size:   l.size(),
		Usage:  gpu.BufferUsageShaderBindingTable | gpu.BufferUsageDeviceAddress | gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisible,
	})
	if err != nil {
		return nil, gpu.Fatal("create shader binding table", err)
	}
	if err := buf.Write(0, data); err != nil {
		buf.Destroy()
		return nil, gpu.Fatal("write shader binding table", err)
	}

	addr := buf.DeviceAddress()
	sbt := &SBT{buffer: buf, Raygen: l.raygen, Miss: l.miss, Hit: l.hit}
	sbt.Raygen.Address += addr
	sbt.Miss.Address += addr
	sbt.Hit.Address += addr
	return sbt, nil
}

// Buffer returns the buffer backing the table.
func (s *SBT) Buffer() gpu.Buffer { return s.buffer }

func (s *SBT) Destroy() {
	if s.buffer != nil {
		s.buffer.Destroy()
		s.buffer = nil
	}
}
