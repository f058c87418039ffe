package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/nsescan/internal/application"
	scanlog "github.com/sawpanic/nsescan/internal/log"
	"github.com/sawpanic/nsescan/internal/models"
)

func newScanCmd(opts *options) *cobra.Command {
	var (
		full    bool
		symbols []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:       "scan swing|intraday",
		Short:     "Run a scan in the foreground and print ranked opportunities",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.ModeSwing), string(models.ModeIntraday)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, args[0], full, symbols, asJSON, cmd.OutOrStdout())
		},
	}
	bindScanFlags(cmd.Flags(), &full, &symbols, &asJSON)
	return cmd
}

func bindScanFlags(fs *pflag.FlagSet, full *bool, symbols *[]string, asJSON *bool) {
	fs.BoolVar(full, "full", false, "Scan the whole watchlist instead of the quick subset")
	fs.StringSliceVar(symbols, "symbols", nil, "Comma-separated symbols to scan instead of the watchlist")
	fs.BoolVar(asJSON, "json", false, "Print results as JSON")
}

func runScan(parent context.Context, opts *options, mode string, full bool, symbols []string, asJSON bool, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.Build(&opts.cfg, application.BuildOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	svc := app.Service

	progress := scanlog.LogHandler()
	if !asJSON && term.IsTerminal(int(os.Stderr.Fd())) {
		progress = scanlog.NewProgressIndicator(os.Stderr, mode).Handler()
	}
	defer svc.ScanSubscribe(progress)()

	if _, err := svc.ScanStart(mode, full, symbols); err != nil {
		return err
	}

	if err := svc.ScanWait(ctx); err != nil {
		log.Info().Msg("Cancelling scan after the current batch")
		svc.ScanCancel()
		if err := svc.ScanWait(context.Background()); err != nil {
			return err
		}
	}

	state := svc.ScanStatus()
	results := state.Results(models.Mode(strings.ToLower(strings.TrimSpace(mode))))
	if state.Status == models.StatusError {
		log.Warn().Str("reason", state.Error).Int("partial", len(results)).Msg("Scan ended early")
	}

	if asJSON {
		return printJSON(out, results)
	}
	printOpportunities(out, results)
	if state.Status == models.StatusError {
		return fmt.Errorf("scan ended: %s", state.Error)
	}
	return nil
}

// headlineSignal picks overall from provider analyses and volume from computed ones
func headlineSignal(s models.Signals) string {
	if v := s[models.SignalOverall]; v != "" {
		return v
	}
	if v := s[models.SignalVolume]; v != "" {
		return v
	}
	return "-"
}

func printOpportunities(out io.Writer, opps []models.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(out, "No opportunities found")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSYMBOL\tSCORE\tENTRY\tSTOP\tTARGET\tR:R\tSIGNAL\tSOURCE")
	for i, o := range opps {
		fmt.Fprintf(tw, "%d\t%s\t%.0f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			i+1, o.Symbol, o.Score, o.Entry, o.StopLoss, o.Target, o.RiskReward, headlineSignal(o.Signals), o.Source)
	}
	tw.Flush()
}
