package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/pkg/client"
)

// ── append ───────────────────────────────────────────────────────────────────

func (a *cli) appendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <envelope.json|->",
		Short: "Submit a signed envelope to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var env client.Envelope
			if err := json.Unmarshal(b, &env); err != nil {
				return fmt.Errorf("parse envelope: %w", err)
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			res, err := c.Append(cmd.Context(), env)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Code != "" {
					return fmt.Errorf("record rejected: %s: %s", apiErr.Code, apiErr.Message)
				}
				return err
			}
			return printValue(cmd.OutOrStdout(), "json", res)
		},
	}
}

// ── head ─────────────────────────────────────────────────────────────────────

func (a *cli) headCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Show the server's log length and head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			info, err := c.Info(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]any{
				"length":         info.Length,
				"hash_algorithm": info.HashAlgorithm,
				"founder":        info.Founder,
			}
			if info.Head != nil {
				out["head"] = info.Head.RecordID
				out["timestamp"] = info.Head.Timestamp
			}
			return printValue(cmd.OutOrStdout(), format, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	return cmd
}

// ── log-id ───────────────────────────────────────────────────────────────────

func (a *cli) logIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log-id",
		Short: "Print the operator log id",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), operator.LogID().String())
		},
	}
}
