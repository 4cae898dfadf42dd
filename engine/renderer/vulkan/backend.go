package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Surface is the window side of the backend: the loader entry point, the instance
// extensions the window system needs and the presentable surface itself.
type Surface interface {
	InstanceProcAddress() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type Options struct {
	AppName    string
	Validation bool
	VSync      bool
}

// New creates the instance, the surface and a logical device able to trace rays. On error
// everything created so far is released.
func New(surface Surface, opts Options) (*Device, error) {
	d := &Device{
		opts:   opts,
		window: surface,
		locks:  newLockPool(),
	}
	if err := d.initialize(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) initialize() error {
	procAddr := d.window.InstanceProcAddress()
	if procAddr == nil {
		return gpu.Fatal("load vulkan", fmt.Errorf("GetInstanceProcAddress is nil"))
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return gpu.Fatal("initialize vulkan loader", err)
	}

	if err := d.createInstance(); err != nil {
		return err
	}
	khr, err := newKHRTable(procAddr, d.instance)
	if err != nil {
		return err
	}
	d.khr = khr

	if d.opts.Validation {
		if err := d.createDebugReport(); err != nil {
			return err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	s, err := d.window.CreateSurface(d.instance)
	if err != nil {
		return gpu.Fatal("create surface", err)
	}
	d.surface = s
	core.LogDebug("Vulkan surface created.")

	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := d.createLogicalDevice(); err != nil {
		return err
	}
	if err := d.khr.loadDevice(d.logical); err != nil {
		return err
	}
	if !d.detectDepthFormat() {
		return gpu.Fatal("detect depth format", fmt.Errorf("no supported depth format"))
	}
	d.rt = d.khr.limits(d.physical)
	core.LogInfo("Ray tracing: handle size %d, max recursion %d.", d.rt.HandleSize, d.rt.MaxRecursion)
	return nil
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.opts.AppName),
		PEngineName:        VulkanSafeString(engineName),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{}, d.window.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration")
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if d.opts.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if err := requireLayer(validationLayer); err != nil {
			return err
		}
		layers = append(layers, validationLayer)
	}

	core.LogInfo("Required extensions:")
	for _, ext := range extensions {
		core.LogInfo(ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check(vk.CreateInstance(&createInfo, d.allocator, &d.instance), "create instance"); err != nil {
		return err
	}
	if err := vk.InitInstance(d.instance); err != nil {
		return gpu.Fatal("load instance functions", err)
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func requireLayer(name string) error {
	core.LogInfo("Validation layers enabled. Enumerating...")
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "enumerate layers"); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, available), "enumerate layers"); err != nil {
		return err
	}
	core.LogInfo("Searching for layer: %s...", name)
	for i := range available {
		available[i].Deref()
		if FixedString(available[i].LayerName[:]) == name {
			core.LogInfo("Found.")
			return nil
		}
	}
	return gpu.Fatal("enable validation", fmt.Errorf("required validation layer is missing: %s", name))
}

func (d *Device) createDebugReport() error {
	core.LogDebug("Creating Vulkan debugger...")
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := check(vk.CreateDebugReportCallback(d.instance, &info, nil, &dbg), "create debug report callback"); err != nil {
		return err
	}
	d.debugReport = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

// Destroy releases the device, the surface and the instance. It is safe to call on a
// partially initialized Device and more than once.
func (d *Device) Destroy() {
	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
		if d.commandPool != vk.NullCommandPool {
			core.LogInfo("Destroying command pools...")
			vk.DestroyCommandPool(d.logical, d.commandPool, d.allocator)
			d.commandPool = vk.NullCommandPool
		}
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.logical, d.allocator)
		d.logical = nil
	}
	d.graphicsQueue = nil
	d.presentQueue = nil
	d.physical = nil

	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, d.allocator)
		d.surface = vk.NullSurface
	}
	if d.debugReport != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugReport, d.allocator)
		d.debugReport = vk.NullDebugReportCallback
	}
	if d.khr != nil {
		d.khr.destroy()
		d.khr = nil
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, d.allocator)
		d.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
