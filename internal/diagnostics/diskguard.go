// Package diagnostics provides scratch-disk capacity checks and the support
// dump used when filing issues.
package diagnostics

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// EnsureScratchSpace verifies the scratch volume can hold a working set for
// one job: the original file, its normalized WAV, and the chunk files.
// minFreeFactor scales the upload size into the required headroom; decoded
// PCM runs several times larger than compressed input.
func EnsureScratchSpace(path string, uploadSizeBytes int64, minFreeFactor float64) error {
	if minFreeFactor <= 0 {
		minFreeFactor = 4.0
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	required := uint64(float64(uploadSizeBytes) * minFreeFactor)
	if usage.Free < required {
		return errors.Newf("insufficient scratch space: %d bytes free, %d required", usage.Free, required).
			Component("diagnostics").
			Category(errors.CategorySystem).
			Context("path", path).
			Context("free_bytes", usage.Free).
			Context("required_bytes", required).
			Build()
	}
	return nil
}
