// Package probe inspects a local media file the way the pipeline would:
// ffprobe metadata plus the chunk plan.
package probe

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/media"
)

// Command creates the probe command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [file]",
		Short: "Inspect a media file and show its chunk plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(settings, args[0])
		},
	}
}

func runProbe(settings *conf.Settings, path string) error {
	meta, err := media.Probe(context.Background(), path)
	if err != nil {
		return err
	}

	fmt.Printf("File:        %s\n", path)
	fmt.Printf("Codec:       %s\n", meta.Codec)
	fmt.Printf("Duration:    %.2f s\n", meta.Duration)
	fmt.Printf("Sample rate: %d Hz\n", meta.SampleRate)
	fmt.Printf("Channels:    %d\n", meta.Channels)
	if meta.BitRate > 0 {
		fmt.Printf("Bit rate:    %d kbit/s\n", meta.BitRate)
	}

	chunker := media.NewChunker(&settings.Chunking)
	boundaries := chunker.CalculateBoundaries(meta.Duration, nil)
	fmt.Printf("\nChunk plan (%d chunks, max %.0fs, overlap %.0fs):\n",
		len(boundaries), settings.Chunking.MaxChunkDuration, settings.Chunking.OverlapDuration)
	for i, b := range boundaries {
		fmt.Printf("  chunk_%04d  %9.2f - %9.2f  (%.2fs)\n", i, b.Start, b.End, b.End-b.Start)
	}
	return nil
}
