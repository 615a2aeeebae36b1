// Package backend provides a registry of pluggable GPU adapters.
//
// The rhi core talks to the GPU only through gpucore.GPUAdapter. Adapter
// implementations register a factory here so that a Device can be opened by
// name, for example from the backend key of a TOML configuration.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The HAL backends are registered when package native is imported:
//
//	import _ "github.com/gogpu/rhi/backend/native"
//
// # Backend Selection
//
// Use Default() to open the best available backend, or Open() to request
// a specific backend by name:
//
//	// Open the default (best available) backend
//	a, err := backend.Default()
//
//	// Or request a specific backend
//	a, err := backend.Open(backend.Noop)
//
// # Available Backends
//
// - "native": system GPU via the gogpu/wgpu Vulkan HAL (not with -tags nogpu)
// - "noop": gogpu/wgpu noop HAL, for tests and headless tooling
package backend
