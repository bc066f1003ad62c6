package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tunneldesk/tunneldesk/cmd/server"
)

const (
	tunneldeskDesc = `
tunneldesk brokers tunnels: users request a public subdomain for a local
port, administrators audit the requests, and approved tunnels are
materialized into the configuration consumed by the forwarding agent.
Detailed help for each command is available with 'tunneldesk help <command>'.
`
)

func NewCmdTunneldesk() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunneldesk",
		Short: "broker and audit tunnel requests",
		Long:  tunneldeskDesc,
	}
	cmd.AddCommand(server.NewServerCmd())

	return cmd
}
