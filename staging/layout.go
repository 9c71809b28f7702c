package staging

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/perfgo/runtests/model"
)

// Upload is a single local path to copy to the device.
type Upload struct {
	Local  string
	Remote string
}

// Plan describes the remote working area of one test.
type Plan struct {
	Root     string
	TempRoot string
	PkgRoot  string
	// Directories that must exist on top of the parents of the uploads.
	Dirs    []string
	Uploads []Upload
}

// Destinations returns the remote paths of all uploads.
func (p Plan) Destinations() []string {
	dests := make([]string, 0, len(p.Uploads))
	for _, u := range p.Uploads {
		dests = append(dests, u.Remote)
	}
	return dests
}

// Layout decides where a test's files live on the device.
type Layout interface {
	Plan(test model.TestSpec, id string) (Plan, error)
}

// DefaultAndroidTmp is where Android sessions are created.
const DefaultAndroidTmp = "/data/local/tmp"

// AndroidLayout stages a test as a flat tree: the binary and its shared
// libraries in <root>/out and data dependencies at their source-relative path
// under <root>. Directories are uploaded whole.
type AndroidLayout struct {
	BinaryDir  string
	SourceRoot string
	// Parent of the session roots. Defaults to DefaultAndroidTmp.
	TmpBase string
}

// OutDir returns the directory holding the binary for a session root.
func (l AndroidLayout) OutDir(root string) string {
	return path.Join(root, "out")
}

func (l AndroidLayout) Plan(test model.TestSpec, id string) (Plan, error) {
	base := l.TmpBase
	if base == "" {
		base = DefaultAndroidTmp
	}
	root := path.Join(base, test.Name+"."+id)
	out := l.OutDir(root)

	plan := Plan{
		Root: root,
		Dirs: []string{out},
	}
	for _, artifact := range test.Artifacts {
		plan.Uploads = append(plan.Uploads, Upload{
			Local:  filepath.Join(l.BinaryDir, artifact),
			Remote: path.Join(out, filepath.ToSlash(artifact)),
		})
	}

	libs, err := filepath.Glob(filepath.Join(l.BinaryDir, "*.so"))
	if err != nil {
		return Plan{}, fmt.Errorf("failed to list shared libraries: %w", err)
	}
	for _, lib := range libs {
		plan.Uploads = append(plan.Uploads, Upload{
			Local:  lib,
			Remote: path.Join(out, filepath.Base(lib)),
		})
	}

	for _, dep := range test.DataDeps {
		remote := path.Join(root, filepath.ToSlash(dep))
		if strings.HasSuffix(dep, "/") {
			// Keep the separator so the directory's contents land in remote.
			remote += "/"
		}
		plan.Uploads = append(plan.Uploads, Upload{
			Local:  filepath.Join(l.SourceRoot, dep),
			Remote: remote,
		})
	}
	return plan, nil
}

// DefaultFuchsiaTmp is where Fuchsia sessions are created.
const DefaultFuchsiaTmp = "/tmp"

// FuchsiaLayout stages a test as a package tree: runtime dependencies from
// inside the binary dir under <pkg>/bin and everything else under
// <pkg>/assets at its source-relative path. The copy tool only handles
// files, so directories are walked and copied file by file.
type FuchsiaLayout struct {
	BinaryDir  string
	SourceRoot string
	// Parent of the session roots. Defaults to DefaultFuchsiaTmp.
	TmpBase string
	// RuntimeDeps lists the runtime dependencies of a test relative to the
	// binary dir.
	RuntimeDeps func(test string) ([]string, error)
}

func (l FuchsiaLayout) Plan(test model.TestSpec, id string) (Plan, error) {
	base := l.TmpBase
	if base == "" {
		base = DefaultFuchsiaTmp
	}
	root := path.Join(base, test.Name+"_"+id)
	pkg := path.Join(root, "pkg")

	plan := Plan{
		Root:     root,
		TempRoot: path.Join(root, "tmp"),
		PkgRoot:  pkg,
	}
	plan.Dirs = []string{plan.TempRoot, path.Join(pkg, "bin")}

	deps, err := l.RuntimeDeps(test.Name)
	if err != nil {
		return Plan{}, err
	}

	binaryDir, err := filepath.Abs(l.BinaryDir)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to resolve binary dir: %w", err)
	}
	sourceRoot, err := filepath.Abs(l.SourceRoot)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to resolve source root: %w", err)
	}

	for _, dep := range deps {
		local := filepath.Join(binaryDir, dep)
		info, err := os.Stat(local)
		if err != nil {
			return Plan{}, fmt.Errorf("runtime dependency %s: %w", dep, err)
		}

		if !info.IsDir() {
			remote, err := l.remotePath(pkg, binaryDir, sourceRoot, local)
			if err != nil {
				return Plan{}, err
			}
			plan.Uploads = append(plan.Uploads, Upload{Local: local, Remote: remote})
			continue
		}

		err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			remote, err := l.remotePath(pkg, binaryDir, sourceRoot, p)
			if err != nil {
				return err
			}
			plan.Uploads = append(plan.Uploads, Upload{Local: p, Remote: remote})
			return nil
		})
		if err != nil {
			return Plan{}, fmt.Errorf("failed to walk runtime dependency %s: %w", dep, err)
		}
	}
	return plan, nil
}

func (l FuchsiaLayout) remotePath(pkg, binaryDir, sourceRoot, local string) (string, error) {
	if rel, ok := within(binaryDir, local); ok {
		return path.Join(pkg, "bin", filepath.ToSlash(rel)), nil
	}
	if rel, ok := within(sourceRoot, local); ok {
		return path.Join(pkg, "assets", filepath.ToSlash(rel)), nil
	}
	return "", fmt.Errorf("runtime dependency %s is outside the source root", local)
}

func within(dir, p string) (string, bool) {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
