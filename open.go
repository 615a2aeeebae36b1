package rhi

import (
	"errors"

	"github.com/gogpu/rhi/backend"
)

// Open opens the backend named by cfg.Backend (or the best available one
// when empty) and creates a device on it. Options are applied after cfg.
// The device owns the adapter and closes it in Close.
//
// Backends register themselves on import:
//
//	import _ "github.com/gogpu/rhi/backend/native"
func Open(cfg Config, opts ...DeviceOption) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		a   backend.Adapter
		err error
	)
	if cfg.Backend == "" {
		a, err = backend.Default()
	} else {
		a, err = backend.Open(cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	d, err := NewDevice(a, append([]DeviceOption{WithConfig(cfg)}, opts...)...)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	d.owned = a
	return d, nil
}
