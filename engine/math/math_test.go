package math

import "testing"

func matClose(a, b Mat4) bool {
	for i := range a.Data {
		if kabs(a.Data[i]-b.Data[i]) > 1e-5 {
			return false
		}
	}
	return true
}

func TestInverseOfTranslation(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	inv := tr.Inverse()
	if !matClose(tr.Mul(inv), NewMat4Identity()) {
		t.Errorf("expected identity, got %v", tr.Mul(inv).Data)
	}
	if inv.Data[12] != -1 || inv.Data[13] != -2 || inv.Data[14] != -3 {
		t.Errorf("unexpected inverse translation %v", inv.Data[12:15])
	}
}

func TestRowMajor3x4(t *testing.T) {
	model := NewMat4Scale(NewVec3(2, 3, 4)).Mul(NewMat4Translation(NewVec3(5, 6, 7)))
	got := model.RowMajor3x4()
	want := [12]float32{
		2, 0, 0, 5,
		0, 3, 0, 6,
		0, 0, 4, 7,
	}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTransformAppliesScaleRotationTranslation(t *testing.T) {
	rot := NewQuatFromAxisAngle(NewVec3(0, 1, 0), K_PI/2, true)
	tr := TransformFromPositionRotationScale(NewVec3(10, 0, 0), rot, NewVec3(2, 2, 2))

	p := NewVec3(1, 0, 0).Transform(tr.GetWorld())
	// (1,0,0) scaled to (2,0,0), rotated 90 degrees about +Y to (0,0,-2), moved by +10 on X.
	if !p.Compare(NewVec3(10, 0, -2), 1e-4) {
		t.Errorf("expected (10,0,-2), got %v", p)
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ size, align, want uint64 }{
		{32, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{0, 32, 0},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.size, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d): expected %d, got %d", tt.size, tt.align, tt.want, got)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 0, 3) != 3 || Clamp(-1, 0, 3) != 0 || Clamp(2, 0, 3) != 2 {
		t.Error("clamp returned a value outside the range")
	}
}
