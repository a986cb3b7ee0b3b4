package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
)

// LoadStorePolicy declares what happens to an attachment's contents at
// the edges of a pass.
type LoadStorePolicy int

const (
	// ClearThenStore clears at pass start and keeps the result.
	ClearThenStore LoadStorePolicy = iota
	// LoadThenStore preserves prior contents and keeps the result.
	LoadThenStore
	// ClearThenDiscard clears at pass start and drops the result,
	// the usual policy for depth.
	ClearThenDiscard
)

func (p LoadStorePolicy) ops() (vulkan.AttachmentLoadOp, vulkan.AttachmentStoreOp) {
	switch p {
	case LoadThenStore:
		return vulkan.AttachmentLoadOpLoad, vulkan.AttachmentStoreOpStore
	case ClearThenDiscard:
		return vulkan.AttachmentLoadOpClear, vulkan.AttachmentStoreOpDontCare
	default:
		return vulkan.AttachmentLoadOpClear, vulkan.AttachmentStoreOpStore
	}
}

// AttachmentDesc declares one attachment of a pass: its format, policy
// and the layout the pass leaves it in.
type AttachmentDesc struct {
	Format      vulkan.Format
	Policy      LoadStorePolicy
	FinalLayout vulkan.ImageLayout
	Depth       bool
}

// RenderPass is a compiled attachment contract: layouts on entry and
// exit plus the implicit dependency that orders it after presentation
// acquire.
type RenderPass struct {
	handle      vulkan.RenderPass
	attachments []AttachmentDesc
}

// Handle returns the raw render pass.
func (rp *RenderPass) Handle() vulkan.RenderPass { return rp.handle }

// NewRenderPass compiles an attachment contract into a single-subpass
// render pass. At least one attachment is required; a pass that touches
// nothing is a configuration error.
func (dc *DeviceContext) NewRenderPass(attachments []AttachmentDesc) (*RenderPass, error) {
	if len(attachments) == 0 {
		return nil, errors.New("render: render pass requires at least one attachment")
	}

	descs := make([]vulkan.AttachmentDescription, len(attachments))
	var colorRefs []vulkan.AttachmentReference
	var depthRef *vulkan.AttachmentReference
	for i, at := range attachments {
		load, store := at.Policy.ops()
		descs[i] = vulkan.AttachmentDescription{
			Format:         at.Format,
			Samples:        vulkan.SampleCount1Bit,
			LoadOp:         load,
			StoreOp:        store,
			StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
			StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
			InitialLayout:  vulkan.ImageLayoutUndefined,
			FinalLayout:    at.FinalLayout,
		}
		if at.Policy == LoadThenStore {
			descs[i].InitialLayout = at.FinalLayout
		}
		if at.Depth {
			if depthRef != nil {
				return nil, errors.New("render: render pass supports a single depth attachment")
			}
			depthRef = &vulkan.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vulkan.ImageLayoutDepthStencilAttachmentOptimal,
			}
		} else {
			colorRefs = append(colorRefs, vulkan.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
			})
		}
	}

	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:    vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if depthRef != nil {
		subpass.PDepthStencilAttachment = depthRef
	}

	// Orders the pass after the acquire semaphore signals, so the first
	// write waits for the presentation engine to release the image.
	stageMask := vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)
	accessMask := vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit)
	if depthRef != nil {
		stageMask |= vulkan.PipelineStageFlags(vulkan.PipelineStageEarlyFragmentTestsBit)
		accessMask |= vulkan.AccessFlags(vulkan.AccessDepthStencilAttachmentWriteBit)
	}
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stageMask,
		DstStageMask:  stageMask,
		SrcAccessMask: 0,
		DstAccessMask: accessMask,
	}

	info := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}
	rp := &RenderPass{attachments: attachments}
	if err := NewError("vkCreateRenderPass", vulkan.CreateRenderPass(dc.device, &info, nil, &rp.handle)); err != nil {
		return nil, err
	}
	return rp, nil
}

// Destroy releases the render pass.
func (rp *RenderPass) Destroy(dc *DeviceContext) {
	if rp == nil || rp.handle == vulkan.NullRenderPass {
		return
	}
	vulkan.DestroyRenderPass(dc.device, rp.handle, nil)
	rp.handle = vulkan.NullRenderPass
}

// Framebuffer binds concrete image views to a render pass for one
// presentation image. Framebuffers are rebuilt with the presentation
// chain on resize.
type Framebuffer struct {
	handle vulkan.Framebuffer
	extent vulkan.Extent2D
}

// Handle returns the raw framebuffer.
func (fb *Framebuffer) Handle() vulkan.Framebuffer { return fb.handle }

// NewFramebuffer binds views (in attachment order) to pass at the given
// extent.
func (dc *DeviceContext) NewFramebuffer(pass *RenderPass, views []vulkan.ImageView, extent vulkan.Extent2D) (*Framebuffer, error) {
	if len(views) != len(pass.attachments) {
		return nil, errors.Newf("render: framebuffer has %d views for %d attachments",
			len(views), len(pass.attachments))
	}
	info := vulkan.FramebufferCreateInfo{
		SType:           vulkan.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	fb := &Framebuffer{extent: extent}
	if err := NewError("vkCreateFramebuffer", vulkan.CreateFramebuffer(dc.device, &info, nil, &fb.handle)); err != nil {
		return nil, err
	}
	return fb, nil
}

// Destroy releases the framebuffer.
func (fb *Framebuffer) Destroy(dc *DeviceContext) {
	if fb == nil || fb.handle == vulkan.NullFramebuffer {
		return
	}
	vulkan.DestroyFramebuffer(dc.device, fb.handle, nil)
	fb.handle = vulkan.NullFramebuffer
}
