// Package atlas packs per-material texture fragments into one square atlas,
// remaps unit UVs into atlas space and fills the per-channel pixel buffers.
package atlas

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
)

// Channel is a semantic texture channel.
type Channel int

const (
	Diffuse Channel = iota
	Normal
	Metallic
	Occlusion
	Emission

	ChannelCount = int(Emission) + 1
)

var channelNames = [ChannelCount]string{"diffuse", "normal", "metallic", "occlusion", "emission"}

// ErrUnknownChannel is returned when parsing an unrecognized channel name.
var ErrUnknownChannel = errors.New("unknown texture channel")

// String returns the lower-case channel name.
func (c Channel) String() string {
	if c < 0 || int(c) >= ChannelCount {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel parses a channel name, case-insensitively.
func ParseChannel(s string) (Channel, error) {
	for i, name := range channelNames {
		if strings.EqualFold(s, name) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// ParseChannels parses a list of channel names, dropping duplicates.
func ParseChannels(names []string) ([]Channel, error) {
	var out []Channel
	seen := [ChannelCount]bool{}
	for _, n := range names {
		c, err := ParseChannel(n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Neutral returns the value a channel holds where no fragment covers it.
func (c Channel) Neutral() color.RGBA {
	switch c {
	case Diffuse, Occlusion:
		return color.RGBA{255, 255, 255, 255}
	case Normal:
		// Tangent-space "straight up".
		return color.RGBA{128, 128, 255, 255}
	default:
		return color.RGBA{0, 0, 0, 255}
	}
}

// Binding lists, in priority order, the source identifiers that may supply
// one channel (shader property names, glTF slot names, file tags).
type Binding struct {
	Channel Channel
	Sources []string
}

// BindingTable is the caller-supplied channel binding table. It is resolved
// once per material.
type BindingTable []Binding

// DefaultBindings covers the usual Unity and glTF texture slot names.
func DefaultBindings() BindingTable {
	return BindingTable{
		{Diffuse, []string{"_MainTex", "_BaseMap", "_BaseColorMap", "baseColorTexture", "diffuse"}},
		{Normal, []string{"_BumpMap", "_NormalMap", "normalTexture", "normal"}},
		{Metallic, []string{"_MetallicGlossMap", "_MetallicMap", "metallicRoughnessTexture", "metallic"}},
		{Occlusion, []string{"_OcclusionMap", "occlusionTexture", "occlusion"}},
		{Emission, []string{"_EmissionMap", "emissiveTexture", "emission"}},
	}
}

// Resolve picks, for every bound channel, the first source identifier
// present in textures. Unbound or unresolved channels stay nil.
func (t BindingTable) Resolve(textures map[string]image.Image) [ChannelCount]image.Image {
	var out [ChannelCount]image.Image
	for _, b := range t {
		if b.Channel < 0 || int(b.Channel) >= ChannelCount || out[b.Channel] != nil {
			continue
		}
		for _, src := range b.Sources {
			if img, ok := textures[src]; ok && img != nil {
				out[b.Channel] = img
				break
			}
		}
	}
	return out
}
