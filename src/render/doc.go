// Package render is a Vulkan renderer core for composited desktop
// surfaces. It negotiates a device, manages GPU memory, compiles
// pipeline state, owns the presentation chain and drives a pipelined
// frame loop with explicit synchronization.
//
// The windowing system stays outside: callers provide a Surface that
// can mint a native surface handle and report its drawable size, and
// the renderer does the rest.
package render
