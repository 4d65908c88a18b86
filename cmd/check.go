package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/zealywatch/internal/app"
	"github.com/JakeFAU/zealywatch/internal/bot"
	"github.com/JakeFAU/zealywatch/internal/logging"
	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// fetcherFactory builds the fetcher used by the check command.
var fetcherFactory = func(e *env) (monitor.Fetcher, func(), error) {
	stats := monitor.NewStats(time.Now())
	return app.NewPipeline(e.cfg, logging.Component(e.logger, "fetch"), stats)
}

func newCheckCmd() *cobra.Command {
	var sampleLen int
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Fetch one page once and print its fingerprint",
		Long: `Runs the same probe, render, normalize and hash pipeline the monitor uses,
without Telegram, and prints the digest and a sample of the normalized text.
Useful for tuning selectors and normalization rules.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			url := bot.Canonicalize(args[0])
			fetcher, release, err := fetcherFactory(e)
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := context.WithTimeout(cmd.Context(),
				e.cfg.Renderer.PageLoadTimeout()*time.Duration(e.cfg.Renderer.MaxAttempts+1))
			defer cancel()
			result, err := fetcher.Fetch(ctx, url)
			if err != nil {
				return fmt.Errorf("check %s: %w", url, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:       %s\n", url)
			fmt.Fprintf(out, "digest:    %s\n", result.Digest)
			fmt.Fprintf(out, "source:    %s\n", result.Source)
			fmt.Fprintf(out, "selector:  %s\n", result.Selector)
			fmt.Fprintf(out, "attempts:  %d\n", result.Attempts)
			fmt.Fprintf(out, "response:  %.2fs\n", result.ResponseTime.Seconds())
			fmt.Fprintf(out, "length:    %d\n", len([]rune(result.Text)))
			fmt.Fprintf(out, "sample:    %s\n", strings.TrimSpace(result.Sample(sampleLen)))
			return nil
		},
	}
	cmd.Flags().IntVar(&sampleLen, "sample", 200, "runes of normalized text to print")
	return cmd
}
