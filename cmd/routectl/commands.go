package main

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/aggregator"
	commonutil "github.com/hxuan190/evm-route-engine/internal/common"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/http"
)

type session struct {
	cfg     *config.CLIConfig
	clients *blockchain.Clients
	stack   *aggregator.Stack
}

func (s *session) Close() {
	s.clients.Close()
}

func load(cmd *cobra.Command) (*config.CLIConfig, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCLI(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	commonutil.InitLogger(cfg.LogLevel, config.DevEnv)
	return cfg, nil
}

func open(cmd *cobra.Command) (*session, error) {
	cfg, err := load(cmd)
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Chain.Registry()
	if err != nil {
		return nil, err
	}
	if _, err := registry.Get(cfg.ChainID); err != nil {
		return nil, err
	}

	clients := blockchain.NewRPCClients(registry, cfg.Provider)
	stack, err := aggregator.Build(aggregator.Components{
		Registry: registry,
		Clients:  clients,
		Heads:    blockchain.NewClientHeadTracker(clients),
		Router:   cfg.Router,
		Provider: cfg.Provider,
		Cache:    cfg.Cache,
	})
	if err != nil {
		clients.Close()
		return nil, err
	}
	return &session{cfg: cfg, clients: clients, stack: stack}, nil
}

func pairFlags(cmd *cobra.Command) (common.Address, common.Address, error) {
	in, _ := cmd.Flags().GetString("in")
	out, _ := cmd.Flags().GetString("out")
	if !common.IsHexAddress(in) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid --in address %q", in)
	}
	if !common.IsHexAddress(out) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid --out address %q", out)
	}
	return common.HexToAddress(in), common.HexToAddress(out), nil
}

func runQuote(cmd *cobra.Command, _ []string) error {
	tokenIn, tokenOut, err := pairFlags(cmd)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetString("amount")
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("invalid --amount %q: must be a positive integer", raw)
	}
	exactOut, _ := cmd.Flags().GetBool("exact-out")
	slippage, _ := cmd.Flags().GetUint16("slippage-bps")

	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req := domain.RouteRequest{
		ChainID:              s.cfg.ChainID,
		TokenIn:              tokenIn,
		TokenOut:             tokenOut,
		Amount:               amount,
		SlippageToleranceBps: slippage,
	}
	if exactOut {
		req.TradeType = domain.ExactOutput
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.Timeout)
	defer cancel()
	plan, err := s.stack.Router.Route(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), http.NewQuoteResponse(plan))
}

func runPools(cmd *cobra.Command, _ []string) error {
	tokenIn, tokenOut, err := pairFlags(cmd)
	if err != nil {
		return err
	}
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.Timeout)
	defer cancel()
	set, err := s.stack.Router.CandidatePools(ctx, s.cfg.ChainID, tokenIn, tokenOut)
	if err != nil {
		return err
	}

	pools := make([]http.PoolInfo, 0, set.Len())
	for _, cp := range set.Pools {
		pools = append(pools, http.NewPoolInfo(cp))
	}
	return printJSON(cmd.OutOrStdout(), http.CandidatePoolsResponse{
		Pools:       pools,
		Source:      set.Source,
		BlockNumber: set.BlockNumber,
		Total:       len(pools),
		Page:        1,
		Limit:       len(pools),
		Pages:       1,
	})
}

func runChains(cmd *cobra.Command, _ []string) error {
	cfg, err := load(cmd)
	if err != nil {
		return err
	}
	registry, err := cfg.Chain.Registry()
	if err != nil {
		return err
	}
	out := make([]http.ChainInfo, 0)
	for _, ch := range registry.List() {
		out = append(out, http.NewChainInfo(ch))
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
