package frame

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// DirSource replays image files from a directory in name order. It backs
// headless runs and tests where no live capture device exists.
type DirSource struct {
	paths []string
	next  int
	loop  bool
}

// NewDirSource builds a source over the jpeg/png files in dir. With loop
// set, the sequence restarts after the last file; otherwise the source
// reports ErrNotReady once exhausted.
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(paths)
	return &DirSource{paths: paths, loop: loop}, nil
}

// Capture returns the next frame in the sequence.
func (s *DirSource) Capture() (image.Image, error) {
	if s.next >= len(s.paths) {
		if !s.loop {
			return nil, ErrNotReady
		}
		s.next = 0
	}
	path := s.paths[s.next]
	s.next++
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	return img, nil
}

// Close implements Source.
func (s *DirSource) Close() error {
	return nil
}
