package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "routectl",
		Short:        "Quote swaps against live Uniswap V2 / V3 pools",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path (default ./routectl.toml when present)")
	pf.Uint64("chain", 1, "chain id")
	pf.String("registry", "", "chain registry TOML file")
	pf.String("rpc", "", "JSON-RPC URL of the chain")
	pf.String("subgraph-v2", "", "Uniswap V2 subgraph URL")
	pf.String("subgraph-v3", "", "Uniswap V3 subgraph URL")
	pf.String("subgraph-api-key", "", "bearer token for the subgraph gateway")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.Duration("timeout", 15*time.Second, "overall command timeout")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute a swap plan",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("in", "", "input token address")
	quoteCmd.Flags().String("out", "", "output token address")
	quoteCmd.Flags().String("amount", "", "amount in raw token units")
	quoteCmd.Flags().Bool("exact-out", false, "treat amount as the exact output")
	quoteCmd.Flags().Uint16("slippage-bps", 0, "slippage tolerance in bps (default from router config)")
	quoteCmd.Flags().Int("max-hops", 3, "maximum hops per route")
	quoteCmd.Flags().Int("max-splits", 3, "maximum routes in the plan")
	quoteCmd.Flags().Float64("gas-price-gwei", 0, "fixed gas price; 0 reads the chain")
	_ = quoteCmd.MarkFlagRequired("in")
	_ = quoteCmd.MarkFlagRequired("out")
	_ = quoteCmd.MarkFlagRequired("amount")
	root.AddCommand(quoteCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List the candidate pools of a pair",
		RunE:  runPools,
	}
	poolsCmd.Flags().String("in", "", "input token address")
	poolsCmd.Flags().String("out", "", "output token address")
	_ = poolsCmd.MarkFlagRequired("in")
	_ = poolsCmd.MarkFlagRequired("out")
	root.AddCommand(poolsCmd)

	chainsCmd := &cobra.Command{
		Use:   "chains",
		Short: "List supported chains",
		RunE:  runChains,
	}
	root.AddCommand(chainsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
