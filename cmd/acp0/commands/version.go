package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acp0/acp0/version"
)

var verbose bool

// VersionCmd prints the software version, or with --verbose the software
// and wire protocol versions as JSON.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		}
		values, err := json.MarshalIndent(struct {
			ACP0     string `json:"acp0"`
			Protocol string `json:"protocol"`
		}{
			ACP0:     version.Version,
			Protocol: version.ProtocolVersion,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(values))
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show protocol version")
}
