package vulkan

/*
#cgo CFLAGS: -DVK_NO_PROTOTYPES
#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

typedef struct prismKHR {
	PFN_vkGetDeviceProcAddr getDeviceProcAddr;
	PFN_vkGetPhysicalDeviceProperties2 getPhysicalDeviceProperties2;
	PFN_vkGetPhysicalDeviceFeatures2 getPhysicalDeviceFeatures2;
	PFN_vkGetBufferDeviceAddress getBufferDeviceAddress;
	PFN_vkUpdateDescriptorSets updateDescriptorSets;
	PFN_vkGetAccelerationStructureBuildSizesKHR getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR createAccel;
	PFN_vkDestroyAccelerationStructureKHR destroyAccel;
	PFN_vkGetAccelerationStructureDeviceAddressKHR getAccelAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR cmdBuildAccel;
	PFN_vkCreateRayTracingPipelinesKHR createPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR getGroupHandles;
	PFN_vkCmdTraceRaysKHR cmdTraceRays;
} prismKHR;

typedef struct prismLimits {
	uint32_t handleSize;
	uint32_t handleAlignment;
	uint32_t baseAlignment;
	uint32_t maxRecursion;
	uint32_t scratchAlignment;
} prismLimits;

typedef struct prismGeometry {
	int topLevel;
	int opaque;
	VkBuildAccelerationStructureFlagsKHR flags;
	VkDeviceAddress vertexAddress;
	VkDeviceSize vertexStride;
	uint32_t maxVertex;
	VkDeviceAddress indexAddress;
	VkDeviceAddress instanceAddress;
	uint32_t primitiveCount;
} prismGeometry;

typedef struct prismDeviceFeatures {
	VkPhysicalDeviceVulkan12Features v12;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR accel;
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR pipeline;
} prismDeviceFeatures;

static int prismLoadInstance(prismKHR* k, void* gipa, VkInstance instance) {
	PFN_vkGetInstanceProcAddr get = (PFN_vkGetInstanceProcAddr)gipa;
	k->getDeviceProcAddr = (PFN_vkGetDeviceProcAddr)get(instance, "vkGetDeviceProcAddr");
	k->getPhysicalDeviceProperties2 = (PFN_vkGetPhysicalDeviceProperties2)get(instance, "vkGetPhysicalDeviceProperties2");
	k->getPhysicalDeviceFeatures2 = (PFN_vkGetPhysicalDeviceFeatures2)get(instance, "vkGetPhysicalDeviceFeatures2");
	return k->getDeviceProcAddr != NULL && k->getPhysicalDeviceProperties2 != NULL && k->getPhysicalDeviceFeatures2 != NULL;
}

static int prismLoadDevice(prismKHR* k, VkDevice d) {
	PFN_vkGetDeviceProcAddr get = k->getDeviceProcAddr;
	k->getBufferDeviceAddress = (PFN_vkGetBufferDeviceAddress)get(d, "vkGetBufferDeviceAddress");
	k->updateDescriptorSets = (PFN_vkUpdateDescriptorSets)get(d, "vkUpdateDescriptorSets");
	k->getBuildSizes = (PFN_vkGetAccelerationStructureBuildSizesKHR)get(d, "vkGetAccelerationStructureBuildSizesKHR");
	k->createAccel = (PFN_vkCreateAccelerationStructureKHR)get(d, "vkCreateAccelerationStructureKHR");
	k->destroyAccel = (PFN_vkDestroyAccelerationStructureKHR)get(d, "vkDestroyAccelerationStructureKHR");
	k->getAccelAddress = (PFN_vkGetAccelerationStructureDeviceAddressKHR)get(d, "vkGetAccelerationStructureDeviceAddressKHR");
	k->cmdBuildAccel = (PFN_vkCmdBuildAccelerationStructuresKHR)get(d, "vkCmdBuildAccelerationStructuresKHR");
	k->createPipelines = (PFN_vkCreateRayTracingPipelinesKHR)get(d, "vkCreateRayTracingPipelinesKHR");
	k->getGroupHandles = (PFN_vkGetRayTracingShaderGroupHandlesKHR)get(d, "vkGetRayTracingShaderGroupHandlesKHR");
	k->cmdTraceRays = (PFN_vkCmdTraceRaysKHR)get(d, "vkCmdTraceRaysKHR");
	return k->getBufferDeviceAddress != NULL && k->updateDescriptorSets != NULL &&
		k->getBuildSizes != NULL && k->createAccel != NULL && k->destroyAccel != NULL &&
		k->getAccelAddress != NULL && k->cmdBuildAccel != NULL && k->createPipelines != NULL &&
		k->getGroupHandles != NULL && k->cmdTraceRays != NULL;
}

static void prismQueryLimits(prismKHR* k, VkPhysicalDevice pd, prismLimits* out) {
	VkPhysicalDeviceAccelerationStructurePropertiesKHR accel;
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR rt;
	VkPhysicalDeviceProperties2 props;
	memset(&accel, 0, sizeof(accel));
	memset(&rt, 0, sizeof(rt));
	memset(&props, 0, sizeof(props));
	accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	rt.pNext = &accel;
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &rt;
	k->getPhysicalDeviceProperties2(pd, &props);
	out->handleSize = rt.shaderGroupHandleSize;
	out->handleAlignment = rt.shaderGroupHandleAlignment;
	out->baseAlignment = rt.shaderGroupBaseAlignment;
	out->maxRecursion = rt.maxRayRecursionDepth;
	out->scratchAlignment = accel.minAccelerationStructureScratchOffsetAlignment;
}

static void prismChainFeatures(prismDeviceFeatures* f) {
	f->v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	f->v12.pNext = &f->accel;
	f->accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	f->accel.pNext = &f->pipeline;
	f->pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	f->pipeline.pNext = NULL;
}

static int prismSupportsRayTracing(prismKHR* k, VkPhysicalDevice pd) {
	prismDeviceFeatures f;
	VkPhysicalDeviceFeatures2 features;
	memset(&f, 0, sizeof(f));
	memset(&features, 0, sizeof(features));
	prismChainFeatures(&f);
	features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
	features.pNext = &f.v12;
	k->getPhysicalDeviceFeatures2(pd, &features);
	return f.v12.bufferDeviceAddress && f.v12.descriptorBindingPartiallyBound &&
		f.v12.runtimeDescriptorArray && f.accel.accelerationStructure &&
		f.pipeline.rayTracingPipeline;
}

static prismDeviceFeatures* prismNewDeviceFeatures(void) {
	prismDeviceFeatures* f = calloc(1, sizeof(prismDeviceFeatures));
	if (f == NULL) {
		return NULL;
	}
	prismChainFeatures(f);
	f->v12.bufferDeviceAddress = VK_TRUE;
	f->v12.descriptorIndexing = VK_TRUE;
	f->v12.descriptorBindingPartiallyBound = VK_TRUE;
	f->v12.runtimeDescriptorArray = VK_TRUE;
	f->v12.shaderSampledImageArrayNonUniformIndexing = VK_TRUE;
	f->accel.accelerationStructure = VK_TRUE;
	f->pipeline.rayTracingPipeline = VK_TRUE;
	return f;
}

static VkMemoryAllocateFlagsInfo* prismNewAllocateFlags(void) {
	VkMemoryAllocateFlagsInfo* info = calloc(1, sizeof(VkMemoryAllocateFlagsInfo));
	if (info == NULL) {
		return NULL;
	}
	info->sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	info->flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	return info;
}

static VkDescriptorSetLayoutBindingFlagsCreateInfo* prismNewBindingFlags(uint32_t count) {
	VkDescriptorSetLayoutBindingFlagsCreateInfo* info = calloc(1, sizeof(VkDescriptorSetLayoutBindingFlagsCreateInfo));
	VkDescriptorBindingFlags* flags = calloc(count ? count : 1, sizeof(VkDescriptorBindingFlags));
	if (info == NULL || flags == NULL) {
		free(info);
		free(flags);
		return NULL;
	}
	info->sType = VK_STRUCTURE_TYPE_DESCRIPTOR_SET_LAYOUT_BINDING_FLAGS_CREATE_INFO;
	info->bindingCount = count;
	info->pBindingFlags = flags;
	return info;
}

static void prismSetBindingFlags(VkDescriptorSetLayoutBindingFlagsCreateInfo* info, uint32_t i, VkDescriptorBindingFlags flags) {
	((VkDescriptorBindingFlags*)info->pBindingFlags)[i] = flags;
}

static void prismFreeBindingFlags(VkDescriptorSetLayoutBindingFlagsCreateInfo* info) {
	free((void*)info->pBindingFlags);
	free(info);
}

static VkDeviceAddress prismBufferAddress(prismKHR* k, VkDevice d, VkBuffer b) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = b;
	return k->getBufferDeviceAddress(d, &info);
}

static void prismFillGeometry(const prismGeometry* in, VkAccelerationStructureGeometryKHR* g, VkAccelerationStructureBuildGeometryInfoKHR* info) {
	memset(g, 0, sizeof(*g));
	memset(info, 0, sizeof(*info));
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	if (in->topLevel) {
		g->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		g->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		g->geometry.instances.arrayOfPointers = VK_FALSE;
		g->geometry.instances.data.deviceAddress = in->instanceAddress;
	} else {
		g->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		g->geometry.triangles.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		g->geometry.triangles.vertexFormat = VK_FORMAT_R32G32B32_SFLOAT;
		g->geometry.triangles.vertexData.deviceAddress = in->vertexAddress;
		g->geometry.triangles.vertexStride = in->vertexStride;
		g->geometry.triangles.maxVertex = in->maxVertex;
		g->geometry.triangles.indexType = VK_INDEX_TYPE_UINT32;
		g->geometry.triangles.indexData.deviceAddress = in->indexAddress;
		if (in->opaque) {
			g->flags = VK_GEOMETRY_OPAQUE_BIT_KHR;
		}
	}
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = in->topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = in->flags;
	info->mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->geometryCount = 1;
	info->pGeometries = g;
}

static void prismBuildSizes(prismKHR* k, VkDevice d, const prismGeometry* in, VkAccelerationStructureBuildSizesInfoKHR* out) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	prismFillGeometry(in, &g, &info);
	memset(out, 0, sizeof(*out));
	out->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	k->getBuildSizes(d, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &in->primitiveCount, out);
}

static VkResult prismCreateAccel(prismKHR* k, VkDevice d, int topLevel, VkBuffer backing, VkDeviceSize size, VkAccelerationStructureKHR* out, VkDeviceAddress* address) {
	VkAccelerationStructureCreateInfoKHR info;
	VkAccelerationStructureDeviceAddressInfoKHR addressInfo;
	VkResult res;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = backing;
	info.size = size;
	info.type = topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	res = k->createAccel(d, &info, NULL, out);
	if (res != VK_SUCCESS) {
		return res;
	}
	memset(&addressInfo, 0, sizeof(addressInfo));
	addressInfo.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	addressInfo.accelerationStructure = *out;
	*address = k->getAccelAddress(d, &addressInfo);
	return VK_SUCCESS;
}

static void prismDestroyAccel(prismKHR* k, VkDevice d, VkAccelerationStructureKHR a) {
	k->destroyAccel(d, a, NULL);
}

static void prismCmdBuildAccel(prismKHR* k, VkCommandBuffer cmd, const prismGeometry* in, VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst, VkDeviceAddress scratch) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	VkAccelerationStructureBuildRangeInfoKHR range;
	const VkAccelerationStructureBuildRangeInfoKHR* ranges = &range;
	prismFillGeometry(in, &g, &info);
	if (src != VK_NULL_HANDLE) {
		info.mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR;
		info.srcAccelerationStructure = src;
	}
	info.dstAccelerationStructure = dst;
	info.scratchData.deviceAddress = scratch;
	memset(&range, 0, sizeof(range));
	range.primitiveCount = in->primitiveCount;
	k->cmdBuildAccel(cmd, 1, &info, &ranges);
}

static void prismCmdTraceRays(prismKHR* k, VkCommandBuffer cmd, const VkStridedDeviceAddressRegionKHR* regions, uint32_t width, uint32_t height) {
	k->cmdTraceRays(cmd, &regions[0], &regions[1], &regions[2], &regions[3], width, height, 1);
}

static VkResult prismCreateRayTracingPipeline(prismKHR* k, VkDevice d, VkPipelineLayout layout,
		uint64_t raygen, const uint64_t* miss, uint32_t missCount,
		const uint64_t* hit, uint32_t hitCount, uint32_t maxRecursion, VkPipeline* out) {
	uint32_t count = 1 + missCount + hitCount;
	VkPipelineShaderStageCreateInfo* stages = calloc(count, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* groups = calloc(count, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	VkRayTracingPipelineCreateInfoKHR info;
	VkResult res;
	uint32_t i;
	if (stages == NULL || groups == NULL) {
		free(stages);
		free(groups);
		return VK_ERROR_OUT_OF_HOST_MEMORY;
	}
	for (i = 0; i < count; i++) {
		stages[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		stages[i].pName = "main";
		groups[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		groups[i].generalShader = VK_SHADER_UNUSED_KHR;
		groups[i].closestHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].anyHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].intersectionShader = VK_SHADER_UNUSED_KHR;
		if (i == 0) {
			stages[i].stage = VK_SHADER_STAGE_RAYGEN_BIT_KHR;
			stages[i].module = (VkShaderModule)(uintptr_t)raygen;
			groups[i].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
			groups[i].generalShader = i;
		} else if (i <= missCount) {
			stages[i].stage = VK_SHADER_STAGE_MISS_BIT_KHR;
			stages[i].module = (VkShaderModule)(uintptr_t)miss[i - 1];
			groups[i].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
			groups[i].generalShader = i;
		} else {
			stages[i].stage = VK_SHADER_STAGE_CLOSEST_HIT_BIT_KHR;
			stages[i].module = (VkShaderModule)(uintptr_t)hit[i - 1 - missCount];
			groups[i].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_TRIANGLES_HIT_GROUP_KHR;
			groups[i].closestHitShader = i;
		}
	}
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = count;
	info.pStages = stages;
	info.groupCount = count;
	info.pGroups = groups;
	info.maxPipelineRayRecursionDepth = maxRecursion;
	info.layout = layout;
	res = k->createPipelines(d, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
	free(stages);
	free(groups);
	return res;
}

static VkResult prismGroupHandles(prismKHR* k, VkDevice d, VkPipeline p, uint32_t first, uint32_t count, size_t size, void* data) {
	return k->getGroupHandles(d, p, first, count, size, data);
}

static void prismWriteAccelDescriptor(prismKHR* k, VkDevice d, VkDescriptorSet set, uint32_t binding, uint32_t element, VkAccelerationStructureKHR accel) {
	VkWriteDescriptorSetAccelerationStructureKHR as;
	VkWriteDescriptorSet write;
	memset(&as, 0, sizeof(as));
	memset(&write, 0, sizeof(write));
	as.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	as.accelerationStructureCount = 1;
	as.pAccelerationStructures = &accel;
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &as;
	write.dstSet = set;
	write.dstBinding = binding;
	write.dstArrayElement = element;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;
	k->updateDescriptorSets(d, 1, &write, 0, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

// Flag values introduced by the ray tracing and device address extensions.
const (
	bufferUsageDeviceAddress      = vk.BufferUsageFlagBits(C.VK_BUFFER_USAGE_SHADER_DEVICE_ADDRESS_BIT)
	bufferUsageAccelStorage       = vk.BufferUsageFlagBits(C.VK_BUFFER_USAGE_ACCELERATION_STRUCTURE_STORAGE_BIT_KHR)
	bufferUsageAccelBuildInput    = vk.BufferUsageFlagBits(C.VK_BUFFER_USAGE_ACCELERATION_STRUCTURE_BUILD_INPUT_READ_ONLY_BIT_KHR)
	bufferUsageShaderBindingTable = vk.BufferUsageFlagBits(C.VK_BUFFER_USAGE_SHADER_BINDING_TABLE_BIT_KHR)

	stageRaygen     = vk.ShaderStageFlagBits(C.VK_SHADER_STAGE_RAYGEN_BIT_KHR)
	stageMiss       = vk.ShaderStageFlagBits(C.VK_SHADER_STAGE_MISS_BIT_KHR)
	stageClosestHit = vk.ShaderStageFlagBits(C.VK_SHADER_STAGE_CLOSEST_HIT_BIT_KHR)
	stageAnyHit     = vk.ShaderStageFlagBits(C.VK_SHADER_STAGE_ANY_HIT_BIT_KHR)
	stageCallable   = vk.ShaderStageFlagBits(C.VK_SHADER_STAGE_CALLABLE_BIT_KHR)

	pipelineStageRayTracing = vk.PipelineStageFlagBits(C.VK_PIPELINE_STAGE_RAY_TRACING_SHADER_BIT_KHR)
	pipelineStageAccelBuild = vk.PipelineStageFlagBits(C.VK_PIPELINE_STAGE_ACCELERATION_STRUCTURE_BUILD_BIT_KHR)

	accessAccelRead  = vk.AccessFlagBits(C.VK_ACCESS_ACCELERATION_STRUCTURE_READ_BIT_KHR)
	accessAccelWrite = vk.AccessFlagBits(C.VK_ACCESS_ACCELERATION_STRUCTURE_WRITE_BIT_KHR)

	pipelineBindPointRayTracing = vk.PipelineBindPoint(C.VK_PIPELINE_BIND_POINT_RAY_TRACING_KHR)
	descriptorTypeAccel         = vk.DescriptorType(C.VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR)

	bindingPartiallyBound = C.VK_DESCRIPTOR_BINDING_PARTIALLY_BOUND_BIT
)

type accelHandle C.VkAccelerationStructureKHR

// rayTracingLimits are the device limits read through vkGetPhysicalDeviceProperties2.
type rayTracingLimits struct {
	HandleSize       uint32
	HandleAlignment  uint32
	BaseAlignment    uint32
	MaxRecursion     uint32
	ScratchAlignment uint32
}

// accelInput is one geometry of a size query or build.
type accelInput struct {
	TopLevel        bool
	Opaque          bool
	Flags           gpu.AccelBuildFlags
	VertexAddress   uint64
	VertexStride    uint64
	MaxVertex       uint32
	IndexAddress    uint64
	InstanceAddress uint64
	PrimitiveCount  uint32
}

/**
 * @brief The KHR entry points goki/vulkan does not expose. They are loaded once per
 * instance and once per device through vkGetInstanceProcAddr.
 */
type khrTable struct {
	fns        *C.prismKHR
	allocFlags *C.VkMemoryAllocateFlagsInfo
	features   *C.prismDeviceFeatures
}

func newKHRTable(getInstanceProcAddr unsafe.Pointer, instance vk.Instance) (*khrTable, error) {
	fns := (*C.prismKHR)(C.calloc(1, C.sizeof_prismKHR))
	if fns == nil {
		return nil, gpu.Fatal("allocate KHR table", core.ErrUnknown)
	}
	t := &khrTable{fns: fns}
	if C.prismLoadInstance(fns, getInstanceProcAddr, C.VkInstance(unsafe.Pointer(instance))) == 0 {
		t.destroy()
		return nil, gpu.Fatal("load instance entry points", fmt.Errorf("vkGetPhysicalDeviceProperties2 or vkGetDeviceProcAddr missing"))
	}
	return t, nil
}

func (t *khrTable) loadDevice(device vk.Device) error {
	if C.prismLoadDevice(t.fns, C.VkDevice(unsafe.Pointer(device))) == 0 {
		return gpu.Fatal("load ray tracing entry points", fmt.Errorf("a required KHR entry point is missing"))
	}
	t.allocFlags = C.prismNewAllocateFlags()
	if t.allocFlags == nil {
		return gpu.Fatal("allocate memory flags", core.ErrUnknown)
	}
	return nil
}

func (t *khrTable) supportsRayTracing(pd vk.PhysicalDevice) bool {
	return C.prismSupportsRayTracing(t.fns, C.VkPhysicalDevice(unsafe.Pointer(pd))) != 0
}

func (t *khrTable) limits(pd vk.PhysicalDevice) rayTracingLimits {
	var l C.prismLimits
	C.prismQueryLimits(t.fns, C.VkPhysicalDevice(unsafe.Pointer(pd)), &l)
	return rayTracingLimits{
		HandleSize:       uint32(l.handleSize),
		HandleAlignment:  uint32(l.handleAlignment),
		BaseAlignment:    uint32(l.baseAlignment),
		MaxRecursion:     uint32(l.maxRecursion),
		ScratchAlignment: uint32(l.scratchAlignment),
	}
}

// deviceFeatures returns the pNext chain enabling device addresses, descriptor indexing and
// ray tracing. It stays valid until destroy.
func (t *khrTable) deviceFeatures() (unsafe.Pointer, error) {
	if t.features == nil {
		t.features = C.prismNewDeviceFeatures()
		if t.features == nil {
			return nil, gpu.Fatal("allocate device features", core.ErrUnknown)
		}
	}
	return unsafe.Pointer(&t.features.v12), nil
}

// allocateFlags is the pNext of allocations backing buffers with a device address.
func (t *khrTable) allocateFlags() unsafe.Pointer {
	return unsafe.Pointer(t.allocFlags)
}

// bindingFlags builds a VkDescriptorSetLayoutBindingFlagsCreateInfo. The returned func frees it.
func (t *khrTable) bindingFlags(partiallyBound []bool) (unsafe.Pointer, func(), error) {
	info := C.prismNewBindingFlags(C.uint32_t(len(partiallyBound)))
	if info == nil {
		return nil, nil, gpu.Fatal("allocate binding flags", core.ErrUnknown)
	}
	for i, partial := range partiallyBound {
		if partial {
			C.prismSetBindingFlags(info, C.uint32_t(i), C.VkDescriptorBindingFlags(bindingPartiallyBound))
		}
	}
	return unsafe.Pointer(info), func() { C.prismFreeBindingFlags(info) }, nil
}

func (t *khrTable) bufferAddress(device vk.Device, buffer vk.Buffer) uint64 {
	return uint64(C.prismBufferAddress(t.fns, C.VkDevice(unsafe.Pointer(device)), C.VkBuffer(unsafe.Pointer(buffer))))
}

func (in accelInput) toC() C.prismGeometry {
	var g C.prismGeometry
	if in.TopLevel {
		g.topLevel = 1
	}
	if in.Opaque {
		g.opaque = 1
	}
	if in.Flags&gpu.AccelBuildPreferFastTrace != 0 {
		g.flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_TRACE_BIT_KHR
	}
	if in.Flags&gpu.AccelBuildAllowUpdate != 0 {
		g.flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_ALLOW_UPDATE_BIT_KHR
	}
	g.vertexAddress = C.VkDeviceAddress(in.VertexAddress)
	g.vertexStride = C.VkDeviceSize(in.VertexStride)
	g.maxVertex = C.uint32_t(in.MaxVertex)
	g.indexAddress = C.VkDeviceAddress(in.IndexAddress)
	g.instanceAddress = C.VkDeviceAddress(in.InstanceAddress)
	g.primitiveCount = C.uint32_t(in.PrimitiveCount)
	return g
}

func (t *khrTable) buildSizes(device vk.Device, in accelInput) gpu.AccelSizes {
	g := in.toC()
	var out C.VkAccelerationStructureBuildSizesInfoKHR
	C.prismBuildSizes(t.fns, C.VkDevice(unsafe.Pointer(device)), &g, &out)
	return gpu.AccelSizes{
		StructureSize:     uint64(out.accelerationStructureSize),
		BuildScratchSize:  uint64(out.buildScratchSize),
		UpdateScratchSize: uint64(out.updateScratchSize),
	}
}

func (t *khrTable) createAccel(device vk.Device, topLevel bool, backing vk.Buffer, size uint64) (accelHandle, uint64, vk.Result) {
	var handle C.VkAccelerationStructureKHR
	var address C.VkDeviceAddress
	level := C.int(0)
	if topLevel {
		level = 1
	}
	res := C.prismCreateAccel(t.fns, C.VkDevice(unsafe.Pointer(device)), level,
		C.VkBuffer(unsafe.Pointer(backing)), C.VkDeviceSize(size), &handle, &address)
	return accelHandle(handle), uint64(address), vk.Result(res)
}

func (t *khrTable) destroyAccel(device vk.Device, handle accelHandle) {
	C.prismDestroyAccel(t.fns, C.VkDevice(unsafe.Pointer(device)), C.VkAccelerationStructureKHR(handle))
}

func (t *khrTable) cmdBuildAccel(cmd vk.CommandBuffer, in accelInput, src, dst accelHandle, scratch uint64) {
	g := in.toC()
	C.prismCmdBuildAccel(t.fns, C.VkCommandBuffer(unsafe.Pointer(cmd)), &g,
		C.VkAccelerationStructureKHR(src), C.VkAccelerationStructureKHR(dst), C.VkDeviceAddress(scratch))
}

func (t *khrTable) cmdTraceRays(cmd vk.CommandBuffer, regions [4]gpu.StridedRegion, extent gpu.Extent2D) {
	var r [4]C.VkStridedDeviceAddressRegionKHR
	for i, region := range regions {
		r[i].deviceAddress = C.VkDeviceAddress(region.Address)
		r[i].stride = C.VkDeviceSize(region.Stride)
		r[i].size = C.VkDeviceSize(region.Size)
	}
	C.prismCmdTraceRays(t.fns, C.VkCommandBuffer(unsafe.Pointer(cmd)), &r[0], C.uint32_t(extent.Width), C.uint32_t(extent.Height))
}

func moduleHandles(modules []vk.ShaderModule) []C.uint64_t {
	out := make([]C.uint64_t, len(modules))
	for i, m := range modules {
		out[i] = C.uint64_t(uintptr(unsafe.Pointer(m)))
	}
	return out
}

func (t *khrTable) createRayTracingPipeline(device vk.Device, layout vk.PipelineLayout, raygen vk.ShaderModule, miss, hit []vk.ShaderModule, maxRecursion uint32) (vk.Pipeline, vk.Result) {
	missHandles := moduleHandles(miss)
	hitHandles := moduleHandles(hit)
	var missPtr, hitPtr *C.uint64_t
	if len(missHandles) > 0 {
		missPtr = &missHandles[0]
	}
	if len(hitHandles) > 0 {
		hitPtr = &hitHandles[0]
	}
	var out C.VkPipeline
	res := C.prismCreateRayTracingPipeline(t.fns, C.VkDevice(unsafe.Pointer(device)), C.VkPipelineLayout(unsafe.Pointer(layout)),
		C.uint64_t(uintptr(unsafe.Pointer(raygen))), missPtr, C.uint32_t(len(missHandles)),
		hitPtr, C.uint32_t(len(hitHandles)), C.uint32_t(maxRecursion), &out)
	return vk.Pipeline(unsafe.Pointer(out)), vk.Result(res)
}

func (t *khrTable) groupHandles(device vk.Device, pipeline vk.Pipeline, first, count, handleSize uint32) ([]byte, vk.Result) {
	data := make([]byte, int(count)*int(handleSize))
	if len(data) == 0 {
		return data, vk.Success
	}
	res := C.prismGroupHandles(t.fns, C.VkDevice(unsafe.Pointer(device)), C.VkPipeline(unsafe.Pointer(pipeline)),
		C.uint32_t(first), C.uint32_t(count), C.size_t(len(data)), unsafe.Pointer(&data[0]))
	return data, vk.Result(res)
}

func (t *khrTable) writeAccelDescriptor(device vk.Device, set vk.DescriptorSet, binding, element uint32, handle accelHandle) {
	C.prismWriteAccelDescriptor(t.fns, C.VkDevice(unsafe.Pointer(device)), C.VkDescriptorSet(unsafe.Pointer(set)),
		C.uint32_t(binding), C.uint32_t(element), C.VkAccelerationStructureKHR(handle))
}

func (t *khrTable) destroy() {
	if t.features != nil {
		C.free(unsafe.Pointer(t.features))
		t.features = nil
	}
	if t.allocFlags != nil {
		C.free(unsafe.Pointer(t.allocFlags))
		t.allocFlags = nil
	}
	if t.fns != nil {
		C.free(unsafe.Pointer(t.fns))
		t.fns = nil
	}
}
