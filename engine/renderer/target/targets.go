// Package target owns the images and framebuffers sized by the swapchain: the intermediate
// color target both render paths write, the raster depth buffer, and one composite
// framebuffer per swapchain image.
package target

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

type Device interface {
	CreateImage(desc gpu.ImageDesc) (gpu.Image, error)
	CreateFramebuffer(pass gpu.RenderPass, attachments []gpu.Image, extent gpu.Extent2D) (gpu.Framebuffer, error)
	DepthFormat() gpu.Format
}

// Passes provides the render passes the framebuffers are compatible with.
type Passes interface {
	RasterPass() gpu.RenderPass
	PostPass() gpu.RenderPass
}

type Targets struct {
	dev    Device
	passes Passes
	format gpu.Format

	extent       gpu.Extent2D
	intermediate gpu.Image
	depth        gpu.Image
	rasterFB     gpu.Framebuffer
	postFBs      []gpu.Framebuffer
}

// New returns targets whose intermediate image has the given color format.
func New(dev Device, passes Passes, format gpu.Format) *Targets {
	return &Targets{dev: dev, passes: passes, format: format}
}

func (t *Targets) CreateSwapchainResources(sc gpu.Swapchain) error {
	t.extent = sc.Extent()

	var err error
	t.intermediate, err = t.dev.CreateImage(gpu.ImageDesc{
		Label:  core.NewLabel("intermediate"),
		Extent: t.extent,
		Format: t.format,
		Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageStorage | gpu.ImageUsageSampled,
	})
	if err != nil {
		return gpu.Fatal("create intermediate image", err)
	}
	t.depth, err = t.dev.CreateImage(gpu.ImageDesc{
		Label:  core.NewLabel("depth"),
		Extent: t.extent,
		Format: t.dev.DepthFormat(),
		Usage:  gpu.ImageUsageDepthAttachment,
	})
	if err != nil {
		return gpu.Fatal("create depth image", err)
	}
	t.rasterFB, err = t.dev.CreateFramebuffer(t.passes.RasterPass(), []gpu.Image{t.intermediate, t.depth}, t.extent)
	if err != nil {
		return gpu.Fatal("create raster framebuffer", err)
	}
	for i := 0; i < sc.ImageCount(); i++ {
		fb, err := t.dev.CreateFramebuffer(t.passes.PostPass(), []gpu.Image{sc.Image(i)}, t.extent)
		if err != nil {
			return gpu.Fatal("create post framebuffer", err)
		}
		t.postFBs = append(t.postFBs, fb)
	}
	return nil
}

func (t *Targets) DestroySwapchainResources() {
	for _, fb := range t.postFBs {
		fb.Destroy()
	}
	t.postFBs = nil
	if t.rasterFB != nil {
		t.rasterFB.Destroy()
		t.rasterFB = nil
	}
	if t.depth != nil {
		t.depth.Destroy()
		t.depth = nil
	}
	if t.intermediate != nil {
		t.intermediate.Destroy()
		t.intermediate = nil
	}
}

func (t *Targets) Extent() gpu.Extent2D               { return t.extent }
func (t *Targets) Intermediate() gpu.Image            { return t.intermediate }
func (t *Targets) Depth() gpu.Image                   { return t.depth }
func (t *Targets) RasterFramebuffer() gpu.Framebuffer { return t.rasterFB }

// PostFramebuffer returns the composite framebuffer of swapchain image i.
func (t *Targets) PostFramebuffer(i uint32) gpu.Framebuffer { return t.postFBs[i] }
