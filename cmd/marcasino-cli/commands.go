package main

import (
	"fmt"
	"net/http"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/R3E-Network/marcasino/internal/app/services/betting"
	"github.com/spf13/cobra"
)

func secretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Print a fresh 32-byte reveal secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := betting.NewSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.String())
			return nil
		},
	}
}

func addBetFlags(cmd *cobra.Command) {
	cmd.Flags().Uint8P("param", "p", 0, "bet parameter (coin side or dice tier)")
	cmd.Flags().Uint32P("asset", "a", uint32(treasury.NativeAsset), "asset id")
	cmd.Flags().Int64P("amount", "n", 0, "stake in base units")
	cmd.Flags().StringP("secret", "s", "", "reveal secret (hex)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("secret")
}

type betFlags struct {
	param  uint8
	asset  treasury.AssetID
	amount int64
	secret bet.Hash
}

func readBetFlags(cmd *cobra.Command) (betFlags, error) {
	param, _ := cmd.Flags().GetUint8("param")
	asset, _ := cmd.Flags().GetUint32("asset")
	amount, _ := cmd.Flags().GetInt64("amount")
	raw, _ := cmd.Flags().GetString("secret")
	secret, err := bet.ParseHash(raw)
	if err != nil {
		return betFlags{}, err
	}
	return betFlags{param: param, asset: treasury.AssetID(asset), amount: amount, secret: secret}, nil
}

func hashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the commitment hash for a bet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return err
			}
			f, err := readBetFlags(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), betting.CommitmentHash(user, f.param, f.asset, f.amount, f.secret).String())
			return nil
		},
	}
	addBetFlags(cmd)
	return cmd
}

func depositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit funds into the treasury ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, _ := cmd.Flags().GetUint32("asset")
			amount, _ := cmd.Flags().GetInt64("amount")
			return call(cmd, http.MethodPost, "/treasury/deposit", map[string]any{"asset": asset, "amount": amount})
		},
	}
	cmd.Flags().Uint32P("asset", "a", uint32(treasury.NativeAsset), "asset id")
	cmd.Flags().Int64P("amount", "n", 0, "amount in base units")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [player]",
		Short: "Show a player balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, _ := cmd.Flags().GetString("user")
			if len(args) == 1 {
				player = args[0]
			}
			if player == "" {
				return fmt.Errorf("player required")
			}
			asset, _ := cmd.Flags().GetUint32("asset")
			return call(cmd, http.MethodGet, fmt.Sprintf("/treasury/balances/%s?asset=%d", player, asset), nil)
		},
	}
	cmd.Flags().Uint32P("asset", "a", uint32(treasury.NativeAsset), "asset id")
	return cmd
}

func commitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <game>",
		Short: "Derive the commitment hash and submit it with the slashing deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return err
			}
			f, err := readBetFlags(cmd)
			if err != nil {
				return err
			}
			deposit, _ := cmd.Flags().GetInt64("deposit")
			hash := betting.CommitmentHash(user, f.param, f.asset, f.amount, f.secret)
			return call(cmd, http.MethodPost, "/games/"+args[0]+"/commit", map[string]any{"hash": hash, "deposit": deposit})
		},
	}
	addBetFlags(cmd)
	cmd.Flags().Int64("deposit", treasury.UnitsPerCoin/500, "slashing deposit in base units")
	return cmd
}

func revealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal <game>",
		Short: "Reveal a committed bet and place the wager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readBetFlags(cmd)
			if err != nil {
				return err
			}
			return call(cmd, http.MethodPost, "/games/"+args[0]+"/reveal", map[string]any{
				"param":  f.param,
				"asset":  f.asset,
				"amount": f.amount,
				"secret": f.secret,
			})
		},
	}
	addBetFlags(cmd)
	return cmd
}

func settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <game> <request-id>",
		Short: "Settle a fulfilled bet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/games/"+args[0]+"/settle/"+args[1], nil)
		},
	}
}

func fulfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fulfill [request-id]",
		Short: "Deliver random words for a request, or sweep all pending requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return call(cmd, http.MethodPost, "/vrf/sweep", nil)
			}
			words, _ := cmd.Flags().GetStringSlice("word")
			if len(words) == 0 {
				return fmt.Errorf("at least one --word is required")
			}
			var id uint64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid request id %q", args[0])
			}
			return call(cmd, http.MethodPost, "/vrf/fulfill", map[string]any{"request_id": id, "words": words})
		},
	}
	cmd.Flags().StringSliceP("word", "w", nil, "random word (decimal or 0x hex), repeatable")
	return cmd
}

func ticketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Buy lottery tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetUint64("count")
			return call(cmd, http.MethodPost, "/lottery/tickets", map[string]any{"count": count})
		},
	}
	cmd.Flags().Uint64P("count", "c", 1, "number of tickets")
	return cmd
}

func drawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "draw",
		Short: "Request the lottery draw for the current round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/lottery/draw", nil)
		},
	}
}
