package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxcrew/broker"
	"github.com/rustyeddy/fxcrew/broker/oanda"
	"github.com/rustyeddy/fxcrew/indicators"
	"github.com/rustyeddy/fxcrew/market"
)

var candlesCmd = &cobra.Command{
	Use:   "candles <instrument>",
	Short: "Download OANDA candles and summarise their indicators",
	Long: `Fetch recent mid-price candles from OANDA, print the indicator summary
the reasoning stages see, and optionally write the candles as CSV.

Requires OANDA_API_TOKEN and OANDA_ACCOUNT_ID.

Example:
  fxcrew candles EUR/USD --granularity H1 --count 200 --out eurusd_h1.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runCandles,
}

var (
	candlesGranularity string
	candlesCount       int
	candlesOut         string
)

func init() {
	rootCmd.AddCommand(candlesCmd)

	candlesCmd.Flags().StringVarP(&candlesGranularity, "granularity", "g", "H1", "candlestick granularity, e.g. M15, H1, H4, D")
	candlesCmd.Flags().IntVarP(&candlesCount, "count", "n", 100, "number of candles (max 5000)")
	candlesCmd.Flags().StringVarP(&candlesOut, "out", "o", "", "write candles to this CSV file")
}

func runCandles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Broker.Token == "" || cfg.Broker.AccountID == "" {
		return errors.New("candles need OANDA_API_TOKEN and OANDA_ACCOUNT_ID")
	}

	instrument := market.Normalize(args[0])
	client := oanda.NewClient(cfg.Broker.Token, cfg.Broker.AccountID, cfg.Broker.Practice,
		oanda.WithTimeout(cfg.Broker.Timeout))
	candles, err := client.Candles(cmd.Context(), instrument, candlesGranularity, candlesCount)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}

	out := cmd.OutOrStdout()
	s := indicators.Summarize(candles)
	fmt.Fprintf(out, "%s %s: %d candles\n", instrument, candlesGranularity, len(candles))
	fmt.Fprintf(out, "  Last %.5f  SMA20 %.5f  EMA20 %.5f  EMA50 %.5f\n", s.Last, s.SMA20, s.EMA20, s.EMA50)
	fmt.Fprintf(out, "  ATR14 %.5f  ADX14 %.1f  Trend %s\n", s.ATR14, s.ADX14, s.Trend)

	if candlesOut == "" {
		return nil
	}
	f, err := os.Create(candlesOut)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := writeCandlesCSV(f, candles); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Wrote %s\n", candlesOut)
	return nil
}

func writeCandlesCSV(w io.Writer, candles []broker.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	ff := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	for _, c := range candles {
		if err := cw.Write([]string{c.Time.UTC().Format(time.RFC3339), ff(c.Open), ff(c.High), ff(c.Low), ff(c.Close), ff(c.Volume)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
