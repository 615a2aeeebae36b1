// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestBufferUsageNative(t *testing.T) {
	tests := []struct {
		name  string
		usage BufferUsage
		want  gputypes.BufferUsage
	}{
		{"none", 0, 0},
		{"uniform", BufferUsageUniform, gputypes.BufferUsageUniform},
		{"vertex copy", BufferUsageVertex | BufferUsageCopyDst, gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst},
		{"staging", BufferUsageMapWrite | BufferUsageCopySrc, gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc},
		{"storage indirect", BufferUsageStorage | BufferUsageIndirect, gputypes.BufferUsageStorage | gputypes.BufferUsageIndirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usage.Native(); got != tt.want {
				t.Errorf("Native() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatAspects(t *testing.T) {
	tests := []struct {
		format gputypes.TextureFormat
		want   Aspect
	}{
		{gputypes.TextureFormatRGBA8Unorm, AspectColor},
		{gputypes.TextureFormatDepth32Float, AspectDepth},
		{gputypes.TextureFormatStencil8, AspectStencil},
		{gputypes.TextureFormatDepth24PlusStencil8, AspectDepthStencil},
	}
	for _, tt := range tests {
		if got := FormatAspects(tt.format); got != tt.want {
			t.Errorf("FormatAspects(%v) = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestSubresourceRangeResolve(t *testing.T) {
	tests := []struct {
		name   string
		in     SubresourceRange
		want   SubresourceRange
		covers bool
	}{
		{
			name:   "whole",
			in:     WholeRange(),
			want:   SubresourceRange{Aspect: AspectColor, MipLevelCount: 4, ArrayLayerCount: 2},
			covers: true,
		},
		{
			name:   "clamped mips",
			in:     SubresourceRange{BaseMipLevel: 2, MipLevelCount: 10, ArrayLayerCount: Remaining},
			want:   SubresourceRange{Aspect: AspectColor, BaseMipLevel: 2, MipLevelCount: 2, ArrayLayerCount: 2},
			covers: false,
		},
		{
			name:   "single layer",
			in:     SubresourceRange{MipLevelCount: Remaining, BaseArrayLayer: 1, ArrayLayerCount: 1},
			want:   SubresourceRange{Aspect: AspectColor, MipLevelCount: 4, BaseArrayLayer: 1, ArrayLayerCount: 1},
			covers: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Resolve(4, 2, AspectColor)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
			if c := got.Covers(4, 2, AspectColor); c != tt.covers {
				t.Errorf("Covers() = %v, want %v", c, tt.covers)
			}
		})
	}
}

func TestSubresourceRangeAspectSubset(t *testing.T) {
	r := SubresourceRange{Aspect: AspectStencil, MipLevelCount: Remaining, ArrayLayerCount: Remaining}
	got := r.Resolve(1, 1, AspectDepthStencil)
	if got.Aspect != AspectStencil {
		t.Errorf("Aspect = %v, want stencil only", got.Aspect)
	}
	if got.Covers(1, 1, AspectDepthStencil) {
		t.Error("stencil-only range must not cover a depth/stencil image")
	}
}

func TestLayoutString(t *testing.T) {
	if got := LayoutShaderReadOnly.String(); got != "ShaderReadOnly" {
		t.Errorf("String() = %q", got)
	}
	if got := ImageLayout(200).String(); got != "ImageLayout(200)" {
		t.Errorf("String() = %q", got)
	}
	if ImageLayout(200).Valid() {
		t.Error("ImageLayout(200) must not be valid")
	}
}
