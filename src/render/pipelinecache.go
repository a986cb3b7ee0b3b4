package render

import (
	"encoding/binary"
	"hash/fnv"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// pipelineKey identifies a compiled pipeline by the FNV-1a hash of the
// state that determined its compilation.
type pipelineKey uint64

// hashState folds the shader binaries and fixed-function state into the
// cache key. Two descriptions with the same hash compile to the same
// pipeline, so a hit skips driver compilation entirely.
func (d GraphicsPipelineDesc) hashState() pipelineKey {
	h := fnv.New64a()
	h.Write(d.VertexShader)
	h.Write(d.FragmentShader)
	var fixed [7]uint32
	fixed[0] = uint32(d.Fixed.Topology)
	fixed[1] = uint32(d.Fixed.PolygonMode)
	fixed[2] = uint32(d.Fixed.Cull)
	fixed[3] = uint32(d.Fixed.FrontFace)
	fixed[4] = uint32(d.Fixed.Blend)
	fixed[5] = uint32(boolToVk(d.Fixed.DepthTest))
	fixed[6] = uint32(boolToVk(d.Fixed.DepthWrite))
	var buf [4]byte
	for _, w := range fixed {
		binary.LittleEndian.PutUint32(buf[:], w)
		h.Write(buf[:])
	}
	return pipelineKey(h.Sum64())
}

// PipelineCache layers an in-process handle map over the driver's
// binary pipeline cache. The driver blob survives restarts through
// Persist; the handle map only lives for the process.
type PipelineCache struct {
	dc       *DeviceContext
	handle   vulkan.PipelineCache
	path     string
	compiled map[pipelineKey]*Pipeline
	logger   *slog.Logger
}

// NewPipelineCache opens a pipeline cache, seeding the driver cache with
// a previously persisted blob when path names one. A corrupt or
// mismatched blob is discarded by the driver, never an error.
func (dc *DeviceContext) NewPipelineCache(path string) (*PipelineCache, error) {
	pc := &PipelineCache{
		dc:       dc,
		path:     path,
		compiled: make(map[pipelineKey]*Pipeline),
		logger:   dc.logger.With("component", "pipelinecache"),
	}

	var seed []byte
	if path != "" {
		blob, err := os.ReadFile(path)
		switch {
		case err == nil:
			seed = blob
			pc.logger.Debug("seeding pipeline cache from disk", "path", path, "bytes", len(blob))
		case !os.IsNotExist(err):
			pc.logger.Warn("ignoring unreadable pipeline cache", "path", path, "err", err)
		}
	}

	info := vulkan.PipelineCacheCreateInfo{
		SType:           vulkan.StructureTypePipelineCacheCreateInfo,
		InitialDataSize: uint(len(seed)),
		PInitialData:    sliceAddr(seed),
	}
	if err := NewError("vkCreatePipelineCache",
		vulkan.CreatePipelineCache(dc.device, &info, nil, &pc.handle)); err != nil {
		return nil, err
	}
	return pc, nil
}

func sliceAddr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func (pc *PipelineCache) vkHandle() vulkan.PipelineCache {
	if pc == nil {
		return vulkan.NullPipelineCache
	}
	return pc.handle
}

// Lookup returns the already-compiled pipeline for a description, if
// this process compiled it before.
func (pc *PipelineCache) Lookup(desc GraphicsPipelineDesc) (*Pipeline, bool) {
	if pc == nil {
		return nil, false
	}
	p, ok := pc.compiled[desc.hashState()]
	return p, ok
}

func (pc *PipelineCache) noteCompiled(key pipelineKey, p *Pipeline) {
	if pc == nil {
		return
	}
	pc.compiled[key] = p
}

// Persist writes the driver's cache blob to the configured path so the
// next run skips shader compilation for unchanged pipelines.
func (pc *PipelineCache) Persist() error {
	if pc == nil || pc.path == "" {
		return nil
	}
	var size uint
	if err := NewError("vkGetPipelineCacheData",
		vulkan.GetPipelineCacheData(pc.dc.device, pc.handle, &size, nil)); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	blob := make([]byte, size)
	if err := NewError("vkGetPipelineCacheData",
		vulkan.GetPipelineCacheData(pc.dc.device, pc.handle, &size, sliceAddr(blob))); err != nil {
		return err
	}
	if err := os.WriteFile(pc.path, blob[:size], 0o644); err != nil {
		return errors.Wrap(err, "persisting pipeline cache")
	}
	pc.logger.Debug("persisted pipeline cache", "path", pc.path, "bytes", size)
	return nil
}

// Destroy releases every pipeline compiled through the cache and the
// driver cache itself.
func (pc *PipelineCache) Destroy() {
	if pc == nil {
		return
	}
	for key, p := range pc.compiled {
		p.Destroy(pc.dc)
		delete(pc.compiled, key)
	}
	if pc.handle != vulkan.NullPipelineCache {
		vulkan.DestroyPipelineCache(pc.dc.device, pc.handle, nil)
		pc.handle = vulkan.NullPipelineCache
	}
}
