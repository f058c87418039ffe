package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/nsescan/internal/application"
)

func newAnalyzeCmd(opts *options) *cobra.Command {
	var timeframe string
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Score one symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := application.Build(&opts.cfg, application.BuildOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			analysis, err := app.Service.Analyze(cmd.Context(), args[0], timeframe)
			if err != nil {
				return err
			}
			if analysis == nil {
				return fmt.Errorf("no analysis available for %s", args[0])
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", application.DefaultTimeframe, "Candle timeframe")
	return cmd
}

func newMarketCmd(opts *options) *cobra.Command {
	var minChange float64
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Print market health, bullish sectors and trending indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := application.Build(&opts.cfg, application.BuildOptions{})
			if err != nil {
				return err
			}
			defer app.Close()
			svc := app.Service
			out := cmd.OutOrStdout()

			h := svc.MarketHealth(cmd.Context())
			fmt.Fprintf(out, "Market %s  score %.1f  A/D %.1f%% (%d/%d)  sectors %.1f%% (%d/%d)\n\n",
				h.Health, h.Score, h.ADRatio, h.Advancing, h.Total, h.SectorScore, h.PositiveSectors, h.TotalSectors)

			sectors, err := svc.BullishSectors(cmd.Context(), minChange)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SECTOR\tCHANGE%\tADVANCING")
			for _, s := range sectors {
				fmt.Fprintf(tw, "%s\t%.2f\t%d/%d\n", s.Name, s.Change, s.Advancing, s.Total)
			}
			tw.Flush()
			fmt.Fprintln(out)

			tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tMOMENTUM\tCHANGE%\tPRICE")
			for _, i := range svc.TrendingIndices(cmd.Context()) {
				fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\n", i.Index, i.Momentum, i.ChangePercent, i.Price)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&minChange, "min-change", 0.5, "Minimum sector change percent")
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
