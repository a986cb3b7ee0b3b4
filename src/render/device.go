package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

const (
	swapchainExtension     = "VK_KHR_swapchain\x00"
	debugReportExtension   = "VK_EXT_debug_report\x00"
	khronosValidationLayer = "VK_LAYER_KHRONOS_validation\x00"
	discreteGpuScore       = 1000
	noQueueFamily          = -1
)

// queueFamilies holds the queue family index per role, -1 when the device
// offers no family for the role. Compute and transfer fall back to the
// graphics family; only graphics and present are mandatory.
type queueFamilies struct {
	graphics int
	present  int
	compute  int
	transfer int
}

func (q queueFamilies) complete() bool {
	return q.graphics != noQueueFamily && q.present != noQueueFamily
}

// distinct returns the deduplicated set of family indices actually used,
// in deterministic order.
func (q queueFamilies) distinct() []uint32 {
	seen := make(map[int]struct{}, 4)
	var out []uint32
	for _, idx := range []int{q.graphics, q.present, q.compute, q.transfer} {
		if idx == noQueueFamily {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, uint32(idx))
	}
	return out
}

// deviceCaps is the capability record gathered for one physical device
// candidate. Plain data so selection logic stays testable without a GPU.
type deviceCaps struct {
	name         string
	discrete     bool
	families     queueFamilies
	extensions   map[string]bool
	features     Features
	formatCount  int
	presentModes int
}

// scoreDevice rates a candidate. Zero means unusable: required queue
// families, required extensions, required features and at least one
// surface format and present mode are all mandatory. Discrete GPUs win
// over integrated; remaining ties are broken by enumeration order in
// pickDevice.
func scoreDevice(caps deviceCaps, requiredExtensions []string, required Features) int {
	if !caps.families.complete() {
		return 0
	}
	for _, ext := range requiredExtensions {
		if !caps.extensions[ext] {
			return 0
		}
	}
	if len(required.missing(caps.features)) > 0 {
		return 0
	}
	if caps.formatCount == 0 || caps.presentModes == 0 {
		return 0
	}
	score := 1
	if caps.discrete {
		score += discreteGpuScore
	}
	return score
}

// pickDevice returns the index of the best-scored candidate, or -1 when
// none qualifies. Strict comparison keeps the first of equal candidates,
// making selection deterministic across runs.
func pickDevice(candidates []deviceCaps, requiredExtensions []string, required Features) int {
	best, bestScore := -1, 0
	for i, caps := range candidates {
		if score := scoreDevice(caps, requiredExtensions, required); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// DeviceContext owns the API instance, the selected physical device and
// its capability record, the logical device and the work queues. Created
// once at startup, destroyed last.
type DeviceContext struct {
	instance vulkan.Instance
	physical vulkan.PhysicalDevice
	device   vulkan.Device
	surface  vulkan.Surface

	families      queueFamilies
	graphicsQueue vulkan.Queue
	presentQueue  vulkan.Queue
	computeQueue  vulkan.Queue
	transferQueue vulkan.Queue

	caps    deviceCaps
	enabled Features
	limits  vulkan.PhysicalDeviceLimits

	sink   *DiagnosticSink
	logger *slog.Logger
}

// NewDeviceContext creates the API context, selects a physical device that
// satisfies the configuration and builds the logical device with exactly
// the queue families in use.
func NewDeviceContext(cfg Config, surface Surface) (*DeviceContext, error) {
	cfg = cfg.withDefaults()
	if err := vulkan.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing the vulkan loader")
	}

	dc := &DeviceContext{
		logger: cfg.Logger,
		sink:   newDiagnosticSink(cfg.Logger),
		families: queueFamilies{
			graphics: noQueueFamily,
			present:  noQueueFamily,
			compute:  noQueueFamily,
			transfer: noQueueFamily,
		},
	}

	if err := dc.createInstance(cfg, surface); err != nil {
		return nil, err
	}
	if cfg.EnableValidation {
		if err := dc.sink.install(dc.instance); err != nil {
			dc.Destroy()
			return nil, err
		}
	}

	vkSurface, err := surface.CreateSurface(dc.instance)
	if err != nil {
		dc.Destroy()
		return nil, errors.Wrap(err, "creating window surface")
	}
	dc.surface = vkSurface

	if err := dc.selectPhysicalDevice(cfg); err != nil {
		dc.Destroy()
		return nil, err
	}
	if err := dc.createLogicalDevice(cfg); err != nil {
		dc.Destroy()
		return nil, err
	}
	dc.logger.Info("device ready",
		"device", dc.caps.name,
		"discrete", dc.caps.discrete,
		"graphicsFamily", dc.families.graphics,
		"presentFamily", dc.families.present)
	return dc, nil
}

func (dc *DeviceContext) createInstance(cfg Config, surface Surface) error {
	extensions := append([]string{}, surface.InstanceExtensions()...)
	var layers []string
	if cfg.EnableValidation {
		extensions = append(extensions, debugReportExtension)
		layers = append(layers, khronosValidationLayer)
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   cfg.AppName + "\x00",
		ApplicationVersion: vulkan.MakeVersion(1, 0, 0),
		PEngineName:        "lumen\x00",
		EngineVersion:      vulkan.MakeVersion(1, 0, 0),
		ApiVersion:         vulkan.ApiVersion10,
	}
	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	var instance vulkan.Instance
	if err := NewError("vkCreateInstance", vulkan.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return err
	}
	dc.instance = instance
	return vulkan.InitInstance(instance)
}

func (dc *DeviceContext) selectPhysicalDevice(cfg Config) error {
	var count uint32
	if err := NewError("vkEnumeratePhysicalDevices", vulkan.EnumeratePhysicalDevices(dc.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return errors.Wrap(ErrNoSuitableDevice, "no vulkan-capable devices present")
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if err := NewError("vkEnumeratePhysicalDevices", vulkan.EnumeratePhysicalDevices(dc.instance, &count, devices)); err != nil {
		return err
	}

	required := []string{swapchainExtension}
	candidates := make([]deviceCaps, count)
	for i, dev := range devices {
		candidates[i] = dc.gatherCaps(dev)
		dc.logger.Debug("device candidate",
			"name", candidates[i].name,
			"score", scoreDevice(candidates[i], required, cfg.RequiredFeatures))
	}

	best := pickDevice(candidates, required, cfg.RequiredFeatures)
	if best < 0 {
		return errors.Wrap(ErrNoSuitableDevice,
			"no device offers the required queues, extensions and features")
	}
	dc.physical = devices[best]
	dc.caps = candidates[best]
	dc.families = candidates[best].families
	dc.enabled = cfg.RequiredFeatures.union(cfg.OptionalFeatures.intersect(dc.caps.features))

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(dc.physical, &props)
	props.Deref()
	props.Limits.Deref()
	dc.limits = props.Limits
	return nil
}

// gatherCaps queries everything scoring needs about one candidate.
func (dc *DeviceContext) gatherCaps(dev vulkan.PhysicalDevice) deviceCaps {
	caps := deviceCaps{
		extensions: make(map[string]bool),
		families: queueFamilies{
			graphics: noQueueFamily,
			present:  noQueueFamily,
			compute:  noQueueFamily,
			transfer: noQueueFamily,
		},
	}

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(dev, &props)
	props.Deref()
	caps.name = vulkan.ToString(props.DeviceName[:])
	caps.discrete = props.DeviceType == vulkan.PhysicalDeviceTypeDiscreteGpu

	var features vulkan.PhysicalDeviceFeatures
	vulkan.GetPhysicalDeviceFeatures(dev, &features)
	features.Deref()
	caps.features.SamplerAnisotropy = features.SamplerAnisotropy == vulkan.True

	var familyCount uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, nil)
	families := make([]vulkan.QueueFamilyProperties, familyCount)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, families)
	for i, family := range families {
		family.Deref()
		flags := family.QueueFlags
		if flags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0 && caps.families.graphics == noQueueFamily {
			caps.families.graphics = i
		}
		// Prefer a dedicated compute family over the graphics one.
		if flags&vulkan.QueueFlags(vulkan.QueueComputeBit) != 0 {
			if caps.families.compute == noQueueFamily || flags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) == 0 {
				caps.families.compute = i
			}
		}
		if flags&vulkan.QueueFlags(vulkan.QueueTransferBit) != 0 && caps.families.transfer == noQueueFamily {
			caps.families.transfer = i
		}
		var supported vulkan.Bool32
		ret := vulkan.GetPhysicalDeviceSurfaceSupport(dev, uint32(i), dc.surface, &supported)
		if !IsError(ret) && supported == vulkan.True && caps.families.present == noQueueFamily {
			caps.families.present = i
		}
	}
	if caps.families.compute == noQueueFamily {
		caps.families.compute = caps.families.graphics
	}
	if caps.families.transfer == noQueueFamily {
		caps.families.transfer = caps.families.graphics
	}

	var extCount uint32
	if !IsError(vulkan.EnumerateDeviceExtensionProperties(dev, "", &extCount, nil)) {
		exts := make([]vulkan.ExtensionProperties, extCount)
		vulkan.EnumerateDeviceExtensionProperties(dev, "", &extCount, exts)
		for _, ext := range exts {
			ext.Deref()
			caps.extensions[vulkan.ToString(ext.ExtensionName[:])+"\x00"] = true
		}
	}

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(dev, dc.surface, &formatCount, nil)
	caps.formatCount = int(formatCount)
	var modeCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(dev, dc.surface, &modeCount, nil)
	caps.presentModes = int(modeCount)
	return caps
}

func (dc *DeviceContext) createLogicalDevice(cfg Config) error {
	var queueInfos []vulkan.DeviceQueueCreateInfo
	for _, family := range dc.families.distinct() {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	features := vulkan.PhysicalDeviceFeatures{}
	if dc.enabled.SamplerAnisotropy {
		features.SamplerAnisotropy = vulkan.True
	}

	extensions := []string{swapchainExtension}
	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{features},
	}
	if cfg.EnableValidation {
		layers := []string{khronosValidationLayer}
		createInfo.EnabledLayerCount = uint32(len(layers))
		createInfo.PpEnabledLayerNames = layers
	}

	var device vulkan.Device
	if err := NewError("vkCreateDevice", vulkan.CreateDevice(dc.physical, &createInfo, nil, &device)); err != nil {
		return err
	}
	dc.device = device

	vulkan.GetDeviceQueue(device, uint32(dc.families.graphics), 0, &dc.graphicsQueue)
	vulkan.GetDeviceQueue(device, uint32(dc.families.present), 0, &dc.presentQueue)
	vulkan.GetDeviceQueue(device, uint32(dc.families.compute), 0, &dc.computeQueue)
	vulkan.GetDeviceQueue(device, uint32(dc.families.transfer), 0, &dc.transferQueue)
	return nil
}

// Device exposes the logical device handle to sibling components.
func (dc *DeviceContext) Device() vulkan.Device { return dc.device }

// GraphicsQueue returns the graphics-capable queue.
func (dc *DeviceContext) GraphicsQueue() vulkan.Queue { return dc.graphicsQueue }

// PresentQueue returns the presentation-capable queue.
func (dc *DeviceContext) PresentQueue() vulkan.Queue { return dc.presentQueue }

// ComputeQueue returns the compute queue, the graphics queue where the
// device has no dedicated compute family.
func (dc *DeviceContext) ComputeQueue() vulkan.Queue { return dc.computeQueue }

// TransferQueue returns the transfer queue under the same fallback.
func (dc *DeviceContext) TransferQueue() vulkan.Queue { return dc.transferQueue }

// EnabledFeatures reports the features actually enabled on the device.
func (dc *DeviceContext) EnabledFeatures() Features { return dc.enabled }

// Diagnostics returns the validation sink.
func (dc *DeviceContext) Diagnostics() *DiagnosticSink { return dc.sink }

// WaitIdle blocks until the device finished all submitted work.
func (dc *DeviceContext) WaitIdle() error {
	return NewError("vkDeviceWaitIdle", vulkan.DeviceWaitIdle(dc.device))
}

// Destroy tears the context down. Safe to call on a partially constructed
// context; callers must have released every dependent resource first.
func (dc *DeviceContext) Destroy() {
	if dc.device != nil {
		vulkan.DestroyDevice(dc.device, nil)
		dc.device = nil
	}
	if dc.surface != vulkan.NullSurface {
		vulkan.DestroySurface(dc.instance, dc.surface, nil)
		dc.surface = vulkan.NullSurface
	}
	if dc.instance != nil {
		dc.sink.uninstall(dc.instance)
		vulkan.DestroyInstance(dc.instance, nil)
		dc.instance = nil
	}
}
