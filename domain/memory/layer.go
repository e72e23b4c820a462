// Package memory provides domain types for hierarchical agent memory.
package memory

import "fmt"

// Layer represents a retention tier. Records move between layers as their
// relevance changes over time.
type Layer string

// Layer values, ordered from most to least volatile.
const (
	LayerWorking   Layer = "working"
	LayerShortTerm Layer = "short-term"
	LayerLongTerm  Layer = "long-term"
)

// Layers returns all retention tiers in volatility order.
func Layers() []Layer {
	return []Layer{LayerWorking, LayerShortTerm, LayerLongTerm}
}

// ParseLayer converts a string into a Layer.
func ParseLayer(s string) (Layer, error) {
	switch Layer(s) {
	case LayerWorking, LayerShortTerm, LayerLongTerm:
		return Layer(s), nil
	default:
		return "", fmt.Errorf("unknown memory layer %q", s)
	}
}

// Valid reports whether the layer is a known retention tier.
func (l Layer) Valid() bool {
	switch l {
	case LayerWorking, LayerShortTerm, LayerLongTerm:
		return true
	default:
		return false
	}
}

// Demoted returns the next more volatile tier. Working memory has no lower
// tier and demotes to itself.
func (l Layer) Demoted() Layer {
	switch l {
	case LayerLongTerm:
		return LayerShortTerm
	case LayerShortTerm:
		return LayerWorking
	default:
		return LayerWorking
	}
}

// LayerForImportance chooses the initial tier for a newly stored record.
func LayerForImportance(importance float64) Layer {
	switch {
	case importance >= 0.8:
		return LayerLongTerm
	case importance >= 0.5:
		return LayerShortTerm
	default:
		return LayerWorking
	}
}

// Source identifies who created a record.
type Source string

// Source values.
const (
	SourceUser   Source = "user"
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceUser, SourceAgent, SourceSystem:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown memory source %q", s)
	}
}

// Valid reports whether the source is a known origin.
func (s Source) Valid() bool {
	switch s {
	case SourceUser, SourceAgent, SourceSystem:
		return true
	default:
		return false
	}
}
