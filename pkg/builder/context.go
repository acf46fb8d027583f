package builder

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

const dockerignoreFile = ".dockerignore"

// loadIgnore reads root/.dockerignore. A missing file matches nothing.
func loadIgnore(root string) (*patternmatcher.PatternMatcher, error) {
	f, err := os.Open(filepath.Join(root, dockerignoreFile))
	if errors.Is(err, os.ErrNotExist) {
		return patternmatcher.New(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	return patternmatcher.New(patterns)
}

// TarContext streams root as a gzipped tar build context, skipping paths
// matched by .dockerignore. The Dockerfile and .dockerignore are always sent.
func TarContext(root, dockerfile string) (io.ReadCloser, error) {
	pm, err := loadIgnore(root)
	if err != nil {
		return nil, err
	}
	keep := map[string]bool{
		filepath.ToSlash(filepath.Clean(dockerfile)): true,
		dockerignoreFile: true,
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeContext(pw, root, pm, keep))
	}()
	return pr, nil
}

func writeContext(w io.Writer, root string, pm *patternmatcher.PatternMatcher, keep map[string]bool) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !keep[rel] {
			ignored, err := pm.MatchesOrParentMatches(rel)
			if err != nil {
				return fmt.Errorf("failed to match %s: %w", rel, err)
			}
			if ignored {
				// exclusions may re-include children, so only prune
				// directories when no exclusion patterns exist
				if info.IsDir() && !pm.Exclusions() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		head, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		head.Name = rel
		if info.IsDir() {
			head.Name += "/"
		}
		// reproducible contexts
		head.Uid, head.Gid = 0, 0
		head.Uname, head.Gname = "", ""

		if err := tw.WriteHeader(head); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}
