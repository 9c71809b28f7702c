package model

// TestSpec is one entry of the test catalog.
type TestSpec struct {
	// Name of the test as accepted on the command line.
	Name string `json:"name"`
	// Files making up the test. The first entry is the primary artifact: the test
	// binary relative to the binary dir, or for scripts the script relative to the
	// source root.
	Artifacts []string `json:"artifacts"`
	// Runtime data dependencies relative to the source root. A trailing separator
	// marks a directory.
	DataDeps []string `json:"data_deps,omitempty"`
	// A missing primary artifact skips the test instead of failing it.
	OptionalIfMissing bool `json:"optional_if_missing,omitempty"`
	// Target kinds the test applies to.
	Platforms KindSet `json:"platforms"`
	// Script tests are run by the Python interpreter on the host.
	Script bool `json:"script,omitempty"`
}

// Primary returns the primary artifact of the test.
func (t TestSpec) Primary() string {
	if len(t.Artifacts) == 0 {
		return t.Name
	}
	return t.Artifacts[0]
}
