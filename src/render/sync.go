package render

import "github.com/vulkan-go/vulkan"

// FrameSyncSet is the synchronization kit for one pipelined frame slot:
// a fence for host backpressure and two semaphores ordering acquire,
// submit and present on the device timeline. The fence starts signaled
// so the first pass through a slot never blocks.
type FrameSyncSet struct {
	inFlight       vulkan.Fence
	imageAcquired  vulkan.Semaphore
	renderFinished vulkan.Semaphore
}

func newFrameSyncSet(dc *DeviceContext) (*FrameSyncSet, error) {
	s := &FrameSyncSet{}
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
		Flags: vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit),
	}
	if err := NewError("vkCreateFence", vulkan.CreateFence(dc.device, &fenceInfo, nil, &s.inFlight)); err != nil {
		return nil, err
	}
	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	if err := NewError("vkCreateSemaphore", vulkan.CreateSemaphore(dc.device, &semInfo, nil, &s.imageAcquired)); err != nil {
		s.destroy(dc)
		return nil, err
	}
	if err := NewError("vkCreateSemaphore", vulkan.CreateSemaphore(dc.device, &semInfo, nil, &s.renderFinished)); err != nil {
		s.destroy(dc)
		return nil, err
	}
	return s, nil
}

func (s *FrameSyncSet) destroy(dc *DeviceContext) {
	if s.inFlight != vulkan.NullFence {
		vulkan.DestroyFence(dc.device, s.inFlight, nil)
		s.inFlight = vulkan.NullFence
	}
	if s.imageAcquired != vulkan.NullSemaphore {
		vulkan.DestroySemaphore(dc.device, s.imageAcquired, nil)
		s.imageAcquired = vulkan.NullSemaphore
	}
	if s.renderFinished != vulkan.NullSemaphore {
		vulkan.DestroySemaphore(dc.device, s.renderFinished, nil)
		s.renderFinished = vulkan.NullSemaphore
	}
}
