package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"kerdos/api/grpcserver"
)

const addrFlagName = "addr"

func init() {
	rootCmd.AddCommand(marketsCmd)
	marketsCmd.Flags().String(addrFlagName, "localhost:50051", "address of a running kerdos server")
}

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List the markets of a running server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, err := cmd.Flags().GetString(addrFlagName)
		if err != nil {
			return err
		}
		conn, err := grpcserver.Dial(addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		reply, err := grpcserver.NewClient(conn).ListMarkets(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reply.Markets)
	},
}
