// Package cmd implements the sabrdump command.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/spf13/cobra"

	"sabr-processor/internal/platform/logger"
	"sabr-processor/internal/sabr"
	"sabr-processor/internal/session"
)

// Options controls a dump run.
type Options struct {
	ToleranceMs  int
	MaxPartSize  int
	Brotli       bool
	WithAbrState bool
	Logger       *slog.Logger
}

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "sabrdump [file|-]",
	Short: "Print the parts of a captured SABR response",
	Long: `sabrdump decodes a captured SABR (UMP) response body and runs it through
a Processor, printing one JSON line per emitted part and one per dropped
segment. It exits non-zero if the capture is malformed or the server
terminated the stream.

Examples:
  # Dump a raw capture
  sabrdump response.ump

  # Brotli-compressed capture from stdin, with the final ABR state
  sabrdump --brotli --abr-state - < response.ump.br`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDump,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sabrdump:", err)
		return err
	}
	return nil
}

func init() {
	f := rootCmd.Flags()
	f.Int("tolerance-ms", sabr.DefaultLiveSegmentToleranceMs, "live segment duration tolerance in milliseconds")
	f.Int("max-part-size", sabr.DefaultMaxPartSize, "largest accepted part payload in bytes")
	f.Bool("brotli", false, "input is brotli-compressed (implied by a .br file name)")
	f.Bool("abr-state", false, "print the final client ABR state")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text, json)")
}

func runDump(c *cobra.Command, args []string) error {
	f := c.Flags()
	tolerance, _ := f.GetInt("tolerance-ms")
	maxPart, _ := f.GetInt("max-part-size")
	useBrotli, _ := f.GetBool("brotli")
	withState, _ := f.GetBool("abr-state")
	level, _ := f.GetString("log-level")
	format, _ := f.GetString("log-format")

	var in io.Reader = c.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening capture: %w", err)
		}
		defer file.Close()
		in = file
		useBrotli = useBrotli || strings.HasSuffix(args[0], ".br")
	}

	return Dump(c.Context(), in, c.OutOrStdout(), Options{
		ToleranceMs:  tolerance,
		MaxPartSize:  maxPart,
		Brotli:       useBrotli,
		WithAbrState: withState,
		Logger:       logger.NewWithWriter(c.ErrOrStderr(), level, format),
	})
}

// line is one JSON output record. Exactly one field is set.
type line struct {
	Part     *session.PartView    `json:"part,omitempty"`
	Error    *session.ErrorView   `json:"error,omitempty"`
	AbrState *sabr.ClientAbrState `json:"abr_state,omitempty"`
}

// Dump decodes r and writes JSON lines to w. Recoverable errors are written
// and skipped; a malformed capture or a server error is written and returned.
func Dump(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	if opts.Brotli {
		r = brotli.NewReader(r)
	}

	enc := json.NewEncoder(w)
	p := sabr.NewProcessor(sabr.Config{LiveSegmentToleranceMs: opts.ToleranceMs, Logger: opts.Logger})
	stream := sabr.NewStream(sabr.NewDecoder(opts.MaxPartSize))

	err := stream.ReadAll(ctx, r, func(msg sabr.Message) error {
		res, err := p.Process(msg)
		for _, part := range res.Parts {
			v := session.NewPartView(part)
			if werr := enc.Encode(line{Part: &v}); werr != nil {
				return werr
			}
		}
		if err == nil {
			return nil
		}
		v := session.NewErrorView(err)
		if werr := enc.Encode(line{Error: &v}); werr != nil {
			return werr
		}
		if sabr.IsRecoverable(err) {
			return nil
		}
		return err
	})

	var malformed *sabr.MalformedMessageError
	if errors.As(err, &malformed) {
		v := session.NewErrorView(err)
		if werr := enc.Encode(line{Error: &v}); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}

	if opts.WithAbrState {
		state := p.AbrState()
		return enc.Encode(line{AbrState: &state})
	}
	return nil
}
