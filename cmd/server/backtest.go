package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stocksim/portfolio-engine/internal/backtest"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

var (
	btCSV      string
	btSymbol   string
	btStart    string
	btEnd      string
	btCapital  float64
	btNoPrices bool

	backtestCmd = &cobra.Command{
		Use:   "backtest",
		Short: "Run a buy-and-hold backtest over a CSV price file",
		Example: `  portfolio-engine backtest --csv prices.csv --symbol AAPL --start 2024-01-02 --end 2024-06-28`,
		RunE: runBacktest,
	}
)

func init() {
	backtestCmd.Flags().StringVar(&btCSV, "csv", "", "CSV file with a DATE/TICKER column and one column per symbol")
	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "", "ticker to backtest")
	backtestCmd.Flags().StringVar(&btStart, "start", "", "first date (YYYY-MM-DD or YYYYMMDD), default: first row")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "last date (YYYY-MM-DD or YYYYMMDD), default: last row")
	backtestCmd.Flags().Float64Var(&btCapital, "capital", backtest.DefaultCapital, "initial capital")
	backtestCmd.Flags().BoolVar(&btNoPrices, "summary", false, "omit the price history from the output")
	backtestCmd.MarkFlagRequired("csv")
	backtestCmd.MarkFlagRequired("symbol")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	sym, err := symbol.Normalize(btSymbol)
	if err != nil {
		return err
	}
	var start, end int
	if btStart != "" {
		if start, err = timeseries.ParseDate(btStart); err != nil {
			return err
		}
	}
	if btEnd != "" {
		if end, err = timeseries.ParseDate(btEnd); err != nil {
			return err
		}
	}

	h, err := pricing.LoadCSV(btCSV)
	if err != nil {
		return err
	}
	points := h.Series(sym)
	if len(points) == 0 {
		return fmt.Errorf("%s: no prices in %s", sym, btCSV)
	}

	res, err := backtest.Run(points, backtest.Request{Symbol: sym, Start: start, End: end, Capital: btCapital})
	if err != nil {
		return err
	}
	if btNoPrices {
		res.PriceHistory = nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
