package script

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/framestep/tasbridge/internal/input"
)

// Changed reports whether any file that went into tl differs from what was
// read, or can no longer be read.
func (l *Loader) Changed(tl *input.Timeline) bool {
	if tl == nil {
		return true
	}
	for path, sum := range tl.Checksums {
		data, err := afero.ReadFile(l.fs, path)
		if err != nil || xxhash.Sum64(data) != sum {
			return true
		}
	}
	return false
}
