package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kerdos/config"
	"kerdos/logging"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Replay the journal and verify every market's invariants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString(configFlagName)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer log.AtExit()

		svc, _, closeAll, err := openService(cfg, log, nil)
		if err != nil {
			return err
		}
		defer closeAll()
		if err := svc.Check(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d markets at seq %d\n", len(svc.Markets()), svc.Seq())
		return nil
	},
}
