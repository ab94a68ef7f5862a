// Package source decodes video files into RGB frames.
package source

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pillash/mp4util"
	"github.com/pkg/errors"
)

// ContainerDuration reads the duration from an mp4 header without decoding.
// Other containers are not supported.
func ContainerDuration(path string) (time.Duration, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".mp4" && ext != ".m4v" && ext != ".mov" {
		return 0, errors.Errorf("unsupported container %q", ext)
	}
	sec, err := mp4util.Duration(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read duration of %s", path)
	}
	return time.Duration(sec) * time.Second, nil
}
