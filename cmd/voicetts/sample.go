package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/samples"
)

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Manage stored reference voice samples",
	}

	cmd.AddCommand(newSampleAddCmd())
	cmd.AddCommand(newSampleListCmd())

	return cmd
}

func newSampleAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <audio-file>",
		Short: "Normalize a local audio file and store it as a sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			store, err := samples.NewStore(cfg.Paths.SamplesDir,
				audio.NewNormalizer(audio.FFmpegTranscoder{Path: cfg.Audio.FFmpegPath}))
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open audio file: %w", err)
			}
			defer func() { _ = f.Close() }()

			key, err := store.Put(cmd.Context(), args[0], f, filepath.Ext(args[1]))
			if err != nil {
				return fmt.Errorf("store sample: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored sample %q\n", key)
			return err
		},
	}
}

func newSampleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			store, err := samples.NewStore(cfg.Paths.SamplesDir, audio.NewNormalizer(nil))
			if err != nil {
				return err
			}

			list, err := store.List()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tBYTES\tMODIFIED")
			for _, s := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Name, s.Size, s.ModTime.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}
