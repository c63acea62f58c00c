// Package assets packages seed repositories into zip archives and stages them in S3.
package assets

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fixed so identical trees produce identical archives
var modTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Archive zips the tree under dir into dest with paths relative to dir.
func Archive(dir, dest string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create archive %s: %w", dest, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addFile(zw, dir, path); err != nil {
			_ = zw.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish archive %s: %w", dest, err)
	}
	return dest, nil
}

func skipDir(name string) bool {
	switch name {
	case ".git", "cdk.out", "node_modules", "__pycache__":
		return true
	}
	return false
}

func addFile(zw *zip.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	header := &zip.FileHeader{
		Name:     filepath.ToSlash(rel),
		Method:   zip.Deflate,
		Modified: modTime,
	}
	header.SetMode(info.Mode().Perm())

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", rel, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// SnakeToPascal converts build_pipeline to BuildPipeline.
func SnakeToPascal(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// Package is one archived repository.
type Package struct {
	Name string // PascalCase construct id
	Dir  string
	Path string // zip on local disk
}

// PackageRepos archives each directory under reposDir and, when demoDir is set, the
// demo workspace. Packages are returned sorted by name with the demo last.
func PackageRepos(reposDir, demoDir, outDir string) ([]Package, *Package, error) {
	entries, err := os.ReadDir(reposDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", reposDir, err)
	}

	var packages []Package
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := SnakeToPascal(e.Name())
		dir := filepath.Join(reposDir, e.Name())
		path, err := Archive(dir, filepath.Join(outDir, name+".zip"))
		if err != nil {
			return nil, nil, err
		}
		packages = append(packages, Package{Name: name, Dir: dir, Path: path})
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })

	if demoDir == "" {
		return packages, nil, nil
	}
	if _, err := os.Stat(demoDir); err != nil {
		return packages, nil, nil
	}
	path, err := Archive(demoDir, filepath.Join(outDir, "Demo.zip"))
	if err != nil {
		return nil, nil, err
	}
	return packages, &Package{Name: "Demo", Dir: demoDir, Path: path}, nil
}
