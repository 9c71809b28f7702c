package model

import "strings"

// TargetKind identifies how tests reach the device they run on.
type TargetKind uint8

const (
	// TargetKindHost runs test binaries directly on the local machine.
	TargetKindHost TargetKind = iota
	// TargetKindBridgeA is a shell-and-copy device (Android via adb). The remote
	// shell reports the exit status of the test.
	TargetKindBridgeA
	// TargetKindBridgeB is a namespace-isolated device (Fuchsia) whose only
	// result channel is the log relay.
	TargetKindBridgeB
)

func (k TargetKind) String() string {
	switch k {
	case TargetKindHost:
		return "host"
	case TargetKindBridgeA:
		return "android"
	case TargetKindBridgeB:
		return "fuchsia"
	}
	return "unknown"
}

// IsBridge reports whether tests for this kind have to be staged remotely.
func (k TargetKind) IsBridge() bool {
	return k == TargetKindBridgeA || k == TargetKindBridgeB
}

// KindSet is a set of target kinds.
type KindSet uint8

// AllKinds contains every target kind.
const AllKinds = KindSet(1<<TargetKindHost | 1<<TargetKindBridgeA | 1<<TargetKindBridgeB)

// Kinds builds a set from the given kinds.
func Kinds(kinds ...TargetKind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Has reports whether k is a member of s.
func (s KindSet) Has(k TargetKind) bool {
	return s&(1<<k) != 0
}

func (s KindSet) String() string {
	var names []string
	for _, k := range []TargetKind{TargetKindHost, TargetKindBridgeA, TargetKindBridgeB} {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, ",")
}

// Target describes the execution target a build output directory was built for.
// It is created once per invocation and not modified afterwards.
type Target struct {
	Kind TargetKind `json:"kind"`
	// Device serial (android), node name (fuchsia) or the host OS.
	Identifier string `json:"identifier,omitempty"`
	// Root of the SDK providing the bridge tools, if the kind needs one.
	SDKRoot string `json:"sdk_root,omitempty"`
	// Operating system of the machine running the tests' driver (GOOS values).
	HostOS string `json:"host_os,omitempty"`
}
