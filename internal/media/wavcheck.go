package media

import (
	"os"

	"github.com/go-audio/wav"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// VerifyWAV confirms a transcoded chunk is a readable 16 kHz mono PCM WAV.
// Transcode failures that still produce a file surface here instead of as a
// confusing vendor rejection later.
func VerifyWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return errors.Newf("transcoded chunk is not a valid WAV file").
			Component("media").
			Category(errors.CategoryChunking).
			Context("path", path).
			Build()
	}
	if dec.NumChans != 1 {
		return errors.Newf("transcoded chunk has %d channels, want mono", dec.NumChans).
			Component("media").
			Category(errors.CategoryChunking).
			Context("path", path).
			Build()
	}
	if dec.SampleRate != 16000 {
		return errors.Newf("transcoded chunk sample rate is %d Hz, want 16000", dec.SampleRate).
			Component("media").
			Category(errors.CategoryChunking).
			Context("path", path).
			Build()
	}
	return nil
}
