package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.aimuz.me/autocap/config"
	"go.aimuz.me/autocap/internal/app"
	"go.aimuz.me/autocap/internal/logging"
	"go.aimuz.me/autocap/subtitle"
)

type captionFlags struct {
	source   string
	device   string
	provider string
	model    string
	language string
	realtime bool

	out    string
	format string
	save   bool
	title  string
	json   bool
}

func newCaptionCommand(ctx *commandContext) *cobra.Command {
	var f captionFlags

	cmd := &cobra.Command{
		Use:   "caption [audio-file]",
		Short: "Caption live audio until interrupted or the input ends",
		Long: `Caption captures audio, shows live text and completed subtitle lines,
and optionally exports them and saves the session.

With an audio file argument the file is captioned instead of the configured
source; use "-" to read raw 16-bit mono PCM from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg, args); err != nil {
				return err
			}

			format, err := subtitle.ParseFormat(f.format)
			if err != nil {
				return err
			}

			var printer app.Printer
			if f.json {
				printer = app.NewJSONPrinter(cmd.OutOrStdout())
			} else {
				out := cmd.OutOrStdout()
				printer = app.NewTerminalPrinter(out, logging.IsTerminal(out))
			}

			return ctx.withService(func(svc *app.Service) error {
				res, err := svc.Caption(cmd.Context(), app.CaptionOptions{
					Printer: printer,
					Out:     f.out,
					Format:  format,
					Save:    f.save,
					Title:   f.title,
				})
				if res != nil && !f.json {
					printSummary(cmd, res)
				}
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.source, "source", "", "Audio source: device, file, stdin, silence")
	flags.StringVar(&f.device, "device", "", "Input device name")
	flags.StringVarP(&f.provider, "provider", "p", "", "Recognizer: whisper-api, whisper-local, deepgram, openai-realtime")
	flags.StringVar(&f.model, "model", "", "Recognizer model")
	flags.StringVarP(&f.language, "language", "l", "", "Spoken language code, empty to auto-detect")
	flags.BoolVar(&f.realtime, "realtime", false, "Pace file input at playback speed")
	flags.StringVarP(&f.out, "out", "o", "", "Export to a .srt/.vtt file or a directory")
	flags.StringVar(&f.format, "format", "srt", "Export format when --out is a directory")
	flags.BoolVar(&f.save, "save", false, "Save the session")
	flags.StringVar(&f.title, "title", "", "Session title")
	flags.BoolVar(&f.json, "json", false, "Write caption events as JSON lines")
	return cmd
}

// apply overrides configuration with flags that were set.
func (f *captionFlags) apply(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) == 1 {
		if args[0] == "-" {
			cfg.Capture.Source = config.SourceStdin
		} else {
			cfg.Capture.Source = config.SourceFile
			cfg.Capture.File = args[0]
		}
		// Files run as fast as the recognizer allows unless asked otherwise.
		cfg.Capture.Realtime = false
	}

	changed := cmd.Flags().Changed
	if changed("source") {
		cfg.Capture.Source = f.source
	}
	if changed("device") {
		cfg.Capture.Device = f.device
	}
	if changed("realtime") {
		cfg.Capture.Realtime = f.realtime
	}
	if changed("provider") {
		cfg.Recognizer.Provider = f.provider
	}
	if changed("model") {
		cfg.Recognizer.Model = f.model
	}
	if changed("language") {
		cfg.Recognizer.Language = f.language
	}
	return nil
}

func printSummary(cmd *cobra.Command, res *app.CaptionResult) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "%d lines captured", len(res.Lines))
	if res.Status.FramesDropped > 0 {
		fmt.Fprintf(w, ", %d audio frames dropped", res.Status.FramesDropped)
	}
	fmt.Fprintln(w)
	if res.ExportPath != "" {
		fmt.Fprintf(w, "exported to %s\n", res.ExportPath)
	}
	if res.SessionID != "" {
		fmt.Fprintf(w, "saved session %s\n", res.SessionID)
	}
}
