//go:build rhidebug

package rhi

const debugAsserts = true
