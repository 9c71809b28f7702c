// Package catalog contains the fixed list of tests and resolves it for a
// target.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/perfgo/runtests/model"
)

// ErrUnrecognizedTest is returned when a requested test is not part of the
// catalog resolved for the target.
var ErrUnrecognizedTest = errors.New("unrecognized test")

// EndToEndScript is the host-only script test, relative to the source root.
const EndToEndScript = "snapshot/win/end_to_end_test.py"

// Every test locates its data through this file.
const testDataRootMarker = "test/test_paths_test_data_root.txt"

type entry struct {
	name     string
	dataDeps []string
	// Kinds on which the binary may legitimately be absent from the build.
	optionalOn model.KindSet
	platforms  model.KindSet
}

// Not every test is built for Android.
var maybeUnsupportedOnAndroid = model.Kinds(model.TargetKindBridgeA)

var base = []entry{
	{name: "crashpad_client_test", optionalOn: maybeUnsupportedOnAndroid, platforms: model.AllKinds},
	{name: "crashpad_handler_test", optionalOn: maybeUnsupportedOnAndroid, platforms: model.AllKinds},
	{name: "crashpad_minidump_test", optionalOn: maybeUnsupportedOnAndroid, platforms: model.AllKinds},
	{name: "crashpad_snapshot_test", optionalOn: maybeUnsupportedOnAndroid, platforms: model.AllKinds},
	{name: "crashpad_test_test", platforms: model.AllKinds},
	{name: "crashpad_util_test", dataDeps: []string{"util/net/testdata/"}, platforms: model.AllKinds},
}

// Resolve returns the tests to run on target, in execution order. The result
// only depends on target.
func Resolve(target model.Target) []model.TestSpec {
	var specs []model.TestSpec
	for _, e := range base {
		if !e.platforms.Has(target.Kind) {
			continue
		}
		specs = append(specs, model.TestSpec{
			Name:              e.name,
			Artifacts:         []string{e.name},
			DataDeps:          append([]string{testDataRootMarker}, e.dataDeps...),
			OptionalIfMissing: e.optionalOn.Has(target.Kind),
			Platforms:         e.platforms,
		})
	}

	// The end-to-end test drives the Windows handler on the machine itself.
	if target.Kind == model.TargetKindHost && target.HostOS == "windows" {
		specs = append(specs, model.TestSpec{
			Name:      EndToEndScript,
			Artifacts: []string{EndToEndScript},
			Platforms: model.Kinds(model.TargetKindHost),
			Script:    true,
		})
	}
	return specs
}

// Names returns the names of specs in order.
func Names(specs []model.TestSpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// Lookup finds the test called name.
func Lookup(specs []model.TestSpec, name string) (model.TestSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return model.TestSpec{}, false
}

// Select narrows specs to the named tests, in the order they were named. No
// names selects everything. Any name missing from specs is an error.
func Select(specs []model.TestSpec, names []string) ([]model.TestSpec, error) {
	if len(names) == 0 {
		return specs, nil
	}

	var unknown []string
	selected := make([]model.TestSpec, 0, len(names))
	for _, name := range names {
		s, ok := Lookup(specs, name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, s)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedTest, strings.Join(unknown, ", "))
	}
	return selected, nil
}

// Binaries returns the names of the tests that are binaries rather than
// scripts.
func Binaries(specs []model.TestSpec) []string {
	var names []string
	for _, s := range specs {
		if !s.Script {
			names = append(names, s.Name)
		}
	}
	return names
}
