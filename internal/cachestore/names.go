package cachestore

import (
	"fmt"
	"slices"
)

// Kind identifies one of the three logical partitions.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
	KindAPI     Kind = "api"
)

// Names holds the versioned partition names of the running gateway.
type Names struct {
	Static  string
	Dynamic string
	API     string
}

// NewNames derives partition names such as "menu-builder-v1.0.0-static".
func NewNames(prefix, version string) Names {
	base := fmt.Sprintf("%s-v%s", prefix, version)
	return Names{
		Static:  base + "-" + string(KindStatic),
		Dynamic: base + "-" + string(KindDynamic),
		API:     base + "-" + string(KindAPI),
	}
}

// For returns the partition name for kind.
func (n Names) For(kind Kind) string {
	switch kind {
	case KindStatic:
		return n.Static
	case KindAPI:
		return n.API
	default:
		return n.Dynamic
	}
}

// All lists the current names in static, dynamic, api order.
func (n Names) All() []string {
	return []string{n.Static, n.Dynamic, n.API}
}

// Current reports whether name is one of the current partition names.
func (n Names) Current(name string) bool {
	return slices.Contains(n.All(), name)
}
