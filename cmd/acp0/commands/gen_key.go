package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/privval"
)

// MakeGenKeyCommand returns the command that generates an agent keypair.
// Without --out the key is printed to standard output.
func MakeGenKeyCommand(conf *config.Config) *cobra.Command {
	var (
		agentID string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a new agent keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				agentID = conf.Moniker
			}
			key := privval.GenFileKey(out, agentID)
			if out != "" {
				if err := key.Save(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key.PublicKey())
				return nil
			}

			bz, err := json.MarshalIndent(key, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent id stored with the key (defaults to the moniker)")
	cmd.Flags().StringVar(&out, "out", "", "write the key to this file instead of printing it")
	return cmd
}
