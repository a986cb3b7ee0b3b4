package render

import (
	"sync/atomic"
	"unsafe"

	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// DiagnosticSink owns the validation-layer callback registration and
// forwards API-layer messages to the logger. It is created and passed by
// reference into device creation; there is no implicit global state beyond
// what the driver itself keeps.
//
// The sink also counts warning and error reports so tests can assert that
// a hazard (for example a missing compute-to-sample barrier) was flagged.
type DiagnosticSink struct {
	logger   *slog.Logger
	callback vulkan.DebugReportCallback
	errors   uint64
}

func newDiagnosticSink(logger *slog.Logger) *DiagnosticSink {
	return &DiagnosticSink{logger: logger}
}

// install registers the callback with the instance. Requires the debug
// report extension to have been enabled at instance creation.
func (s *DiagnosticSink) install(instance vulkan.Instance) error {
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(vulkan.DebugReportErrorBit |
			vulkan.DebugReportWarningBit |
			vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: s.report,
	}
	var callback vulkan.DebugReportCallback
	ret := vulkan.CreateDebugReportCallback(instance, &createInfo, nil, &callback)
	if IsError(ret) {
		return NewError("vkCreateDebugReportCallback", ret)
	}
	s.callback = callback
	return nil
}

func (s *DiagnosticSink) uninstall(instance vulkan.Instance) {
	if s.callback != vulkan.NullDebugReportCallback {
		vulkan.DestroyDebugReportCallback(instance, s.callback, nil)
		s.callback = vulkan.NullDebugReportCallback
	}
}

// ErrorCount returns how many warning or error diagnostics have been
// reported since creation.
func (s *DiagnosticSink) ErrorCount() uint64 {
	return atomic.LoadUint64(&s.errors)
}

// report forwards one layer message. Must never alter renderer behavior,
// only observability; it always tells the layer to continue.
func (s *DiagnosticSink) report(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType,
	object uint64, location uint, messageCode int32, layerPrefix string, message string,
	userData unsafe.Pointer) vulkan.Bool32 {

	switch {
	case flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0:
		atomic.AddUint64(&s.errors, 1)
		s.logger.Error("validation", "layer", layerPrefix, "code", messageCode, "msg", message)
	case flags&vulkan.DebugReportFlags(vulkan.DebugReportWarningBit) != 0,
		flags&vulkan.DebugReportFlags(vulkan.DebugReportPerformanceWarningBit) != 0:
		atomic.AddUint64(&s.errors, 1)
		s.logger.Warn("validation", "layer", layerPrefix, "code", messageCode, "msg", message)
	default:
		s.logger.Info("validation", "layer", layerPrefix, "code", messageCode, "msg", message)
	}
	return vulkan.Bool32(vulkan.False)
}
