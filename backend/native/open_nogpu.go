//go:build nogpu

package native

// Open reports ErrNoGPU: the binary was built with the nogpu tag.
func Open() (*HALAdapter, error) {
	return nil, ErrNoGPU
}
