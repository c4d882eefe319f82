// Package main reads vault state straight from the chain.
//
// Usage:
//
//	inspect [flags] vault <owner>
//	inspect [flags] referrals <referrer>
//	inspect [flags] address <owner>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotp/internal/config"
	"autotp/internal/domain"
	"autotp/internal/observability"
	"autotp/internal/pricing"
	"autotp/internal/solana"
	"autotp/internal/vault"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", envOr("AUTOTP_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"), "Solana RPC HTTP endpoint")
	programID := flag.String("program-id", envOr("AUTOTP_PROGRAM_ID", config.DefaultProgramID), "Vault program ID")
	decimals := flag.Int("price-decimals", int(pricing.DefaultDecimals), "Fixed-point scale of prices")
	timeout := flag.Duration("timeout", 30*time.Second, "RPC timeout")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] vault|referrals|address <pubkey>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := observability.NewLogger("inspect", "info", true)

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	program, err := solana.ParsePublicKey(*programID)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid --program-id")
	}
	target, err := solana.ParsePublicKey(flag.Arg(1))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid pubkey argument")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := solana.NewHTTPClient(*rpcEndpoint, solana.WithTimeout(*timeout))
	in := &inspector{
		reader:   vault.NewChainReader(program, client),
		rpc:      client,
		program:  program,
		decimals: int32(*decimals),
		json:     *outputJSON,
		out:      os.Stdout,
	}

	switch cmd := flag.Arg(0); cmd {
	case "vault":
		err = in.vault(ctx, target)
	case "referrals":
		err = in.referrals(ctx, target)
	case "address":
		err = in.address(target)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("inspect failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type inspector struct {
	reader   *vault.ChainReader
	rpc      *solana.HTTPClient
	program  solana.PublicKey
	decimals int32
	json     bool
	out      io.Writer
}

func (in *inspector) print(v any, text func(w io.Writer)) error {
	if in.json {
		enc := json.NewEncoder(in.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(in.out)
	return nil
}

func (in *inspector) vault(ctx context.Context, owner solana.PublicKey) error {
	v, err := in.reader.FetchVault(ctx, owner)
	if err != nil {
		return err
	}
	slot, err := in.rpc.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	view := map[string]any{
		"slot":                slot,
		"address":             v.Address.String(),
		"bump":                v.Bump,
		"owner":               v.Owner.String(),
		"token_mint":          v.TokenMint.String(),
		"target_price":        pricing.Format(v.TargetPrice, in.decimals),
		"current_price":       pricing.Format(v.CurrentPrice, in.decimals),
		"referrer":            referrerString(v),
		"ready_for_execution": v.ReadyForExecution,
	}
	return in.print(view, func(w io.Writer) {
		fmt.Fprintf(w, "Vault %s (bump %d) at slot %d\n", v.Address, v.Bump, slot)
		fmt.Fprintf(w, "  owner:          %s\n", v.Owner)
		fmt.Fprintf(w, "  token mint:     %s\n", v.TokenMint)
		fmt.Fprintf(w, "  target price:   %s\n", view["target_price"])
		fmt.Fprintf(w, "  current price:  %s\n", view["current_price"])
		fmt.Fprintf(w, "  referrer:       %s\n", view["referrer"])
		fmt.Fprintf(w, "  target reached: %v\n", v.TargetReached(v.CurrentPrice))
	})
}

func referrerString(v *domain.Vault) string {
	if !v.HasReferrer() {
		return "none"
	}
	return v.Referrer.String()
}

func (in *inspector) referrals(ctx context.Context, referrer solana.PublicKey) error {
	vaults, err := in.reader.VaultsByReferrer(ctx, referrer)
	if err != nil {
		return err
	}

	owners := make([]string, 0, len(vaults))
	for _, v := range vaults {
		owners = append(owners, v.Owner.String())
	}
	return in.print(map[string]any{
		"referrer":        referrer.String(),
		"total_referrals": len(vaults),
		"owners":          owners,
	}, func(w io.Writer) {
		fmt.Fprintf(w, "Referrer %s: %d vault(s)\n", referrer, len(vaults))
		for _, o := range owners {
			fmt.Fprintf(w, "  %s\n", o)
		}
	})
}

func (in *inspector) address(owner solana.PublicKey) error {
	addr, bump, err := vault.DeriveVaultAddress(in.program, owner)
	if err != nil {
		return err
	}
	custody, custodyBump, err := vault.DeriveCustodyAddress(in.program, addr)
	if err != nil {
		return err
	}
	return in.print(map[string]any{
		"vault":        addr.String(),
		"vault_bump":   bump,
		"custody":      custody.String(),
		"custody_bump": custodyBump,
	}, func(w io.Writer) {
		fmt.Fprintf(w, "vault:   %s (bump %d)\n", addr, bump)
		fmt.Fprintf(w, "custody: %s (bump %d)\n", custody, custodyBump)
	})
}
