package scene

import (
	"github.com/spaghettifunk/prism/engine/math"
)

/**
 * @brief A fly camera. The view matrix is rebuilt lazily whenever
 * the position or the Euler rotation changed.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead.
	 */
	EulerRotation math.Vec3
	/** @brief Vertical field of view in radians. */
	FOV  float32
	Near float32
	Far  float32

	isDirty    bool
	viewMatrix math.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3Zero()
	c.FOV = math.DegToRad(45)
	c.Near = 0.1
	c.Far = 1000
	c.isDirty = false
	c.viewMatrix = math.NewMat4Identity()
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
		translation := math.NewMat4Translation(c.Position)

		c.viewMatrix = rotation.Mul(translation).Inverse()
		c.isDirty = false
	}
	return c.viewMatrix
}

// Projection returns a Vulkan clip-space perspective projection for the given aspect ratio.
func (c *Camera) Projection(aspect float32) math.Mat4 {
	return math.NewMat4Perspective(c.FOV, aspect, c.Near, c.Far)
}

func (c *Camera) Forward() math.Vec3 {
	return c.View().Forward()
}

func (c *Camera) Backward() math.Vec3 {
	return c.View().Backward()
}

func (c *Camera) Left() math.Vec3 {
	return c.View().Left()
}

func (c *Camera) Right() math.Vec3 {
	return c.View().Right()
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32)  { c.move(c.Forward(), amount) }
func (c *Camera) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *Camera) MoveLeft(amount float32)     { c.move(c.Left(), amount) }
func (c *Camera) MoveRight(amount float32)    { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32)       { c.move(math.NewVec3Up(), amount) }
func (c *Camera) MoveDown(amount float32)     { c.move(math.NewVec3Down(), amount) }

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := float32(1.55334306) // 89 degrees
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -limit, limit)

	c.isDirty = true
}
