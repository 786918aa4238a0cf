package commands

import (
	"github.com/spf13/cobra"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/internal/transport/wsrelay"
	"github.com/acp0/acp0/libs/log"
)

// MakeRelayCommand returns the command that runs the WebSocket relay agents
// connect to with the websocket transport backend.
func MakeRelayCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the WebSocket relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			relay := wsrelay.NewRelay(logger,
				wsrelay.ListenAddr(conf.Transport.RelayListenAddr),
				wsrelay.AllowedOrigins(conf.Transport.CORSAllowedOrigins),
				wsrelay.SendCapacity(conf.Transport.MailboxCapacity),
				wsrelay.MaxConnections(conf.Transport.RelayMaxConnections),
			)
			if err := relay.Start(cmd.Context()); err != nil {
				return err
			}
			relay.Wait()
			return nil
		},
	}
	cmd.Flags().String("transport.relay_listen_addr", conf.Transport.RelayListenAddr, "relay listen address")
	return cmd
}
