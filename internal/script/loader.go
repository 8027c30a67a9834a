package script

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// StaticLoader serves modules compiled into the host binary
type StaticLoader struct {
	modules []Module
}

// NewStaticLoader creates a loader that always returns modules
func NewStaticLoader(modules ...Module) *StaticLoader {
	return &StaticLoader{modules: modules}
}

// Load ignores ref; compiled-in modules do not live on disk
func (l *StaticLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	return slices.Clone(l.modules), nil
}

// RootLoader merges compiled-in modules with every dynamic loader
type RootLoader struct {
	static  *StaticLoader
	loaders []ModuleLoader
}

// NewRootLoader creates a loader over static modules and dynamic loaders
func NewRootLoader(static []Module, loaders ...ModuleLoader) *RootLoader {
	return &RootLoader{
		static:  NewStaticLoader(static...),
		loaders: loaders,
	}
}

// Load returns the static modules followed by each loader's modules
func (l *RootLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	modules, _ := l.static.Load(ctx, ref)
	for _, loader := range l.loaders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := loader.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		modules = append(modules, found...)
	}
	return modules, nil
}

// findSources lists files under root with the given extension in lexical
// order. A missing root yields no files.
func findSources(fsys afero.Fs, root, ext string) ([]string, error) {
	exists, err := afero.Exists(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat script root %s: %w", root, err)
	}
	if !exists {
		return nil, nil
	}

	var files []string
	err = afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ext && !strings.HasSuffix(path, "_test.go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk script root %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

// moduleName names a source file relative to the script root
func moduleName(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && rel != "." {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}
