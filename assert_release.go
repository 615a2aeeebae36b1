//go:build !rhidebug

package rhi

const debugAsserts = false
