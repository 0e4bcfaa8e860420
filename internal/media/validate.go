package media

import (
	"bytes"
)

// minHeaderSize is the smallest header any supported container needs.
const minHeaderSize = 12

// signature is a magic-byte pattern at a fixed offset.
type signature struct {
	offset int
	magic  []byte
}

// Container signatures for the supported audio and video formats.
var mediaSignatures = []signature{
	{0, []byte("RIFF")},                         // wav, avi
	{0, []byte("ID3")},                          // mp3 with ID3v2 tag
	{0, []byte{0xFF, 0xFB}},                     // mp3 sync
	{0, []byte{0xFF, 0xF3}},                     // mp3 sync (MPEG-2)
	{0, []byte{0xFF, 0xF2}},                     // mp3 sync (MPEG-2.5)
	{0, []byte{0xFF, 0xF1}},                     // aac adts
	{0, []byte{0xFF, 0xF9}},                     // aac adts (MPEG-2)
	{4, []byte("ftyp")},                         // mp4, m4a, mov
	{0, []byte("fLaC")},                         // flac
	{0, []byte("OggS")},                         // ogg, opus
	{0, []byte{0x1A, 0x45, 0xDF, 0xA3}},         // webm, mkv (EBML)
	{0, []byte("FLV")},                          // flv
	{0, []byte{0x30, 0x26, 0xB2, 0x75}},         // wma, asf
	{0, []byte{0x00, 0x00, 0x01, 0xBA}},         // mpeg program stream
	{0, []byte{0x47}},                           // mpeg transport stream
}

// LooksLikeMedia sniffs the header bytes for a known container signature.
// It is a cheap upload-time guard, not a full validation; Probe does that.
func LooksLikeMedia(header []byte) bool {
	if len(header) < minHeaderSize {
		return false
	}
	for _, sig := range mediaSignatures {
		end := sig.offset + len(sig.magic)
		if end <= len(header) && bytes.Equal(header[sig.offset:end], sig.magic) {
			return true
		}
	}
	return false
}
