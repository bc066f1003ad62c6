package server

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunneldesk/tunneldesk/pkg/api"
	"github.com/tunneldesk/tunneldesk/pkg/broker"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"github.com/tunneldesk/tunneldesk/pkg/materialize"
	"github.com/tunneldesk/tunneldesk/pkg/store"
)

type serverCmd struct {
	addr             string
	dbURL            string
	forwardingConfig string
}

func (c *serverCmd) validate() error {
	return nil
}

func (c *serverCmd) run() error {
	var (
		tunnels store.TunnelStore
		users   store.UserDirectory
	)
	if c.dbURL == "mem://" {
		mem := store.NewMem()
		tunnels, users = mem, mem
	} else {
		dbClient, err := db.Open(c.dbURL)
		if err != nil {
			return err
		}
		sqlStore := store.NewSQLStore(dbClient)
		tunnels, users = sqlStore, sqlStore
	}
	materializer := materialize.NewMaterializer(c.forwardingConfig)
	b := broker.New(tunnels, users, materializer)
	log.Info().Msgf("serving tunnel API on %s, forwarding config at %s", c.addr, c.forwardingConfig)
	return api.Router(b).Run(c.addr)
}

func NewServerCmd() *cobra.Command {
	c := &serverCmd{}
	cmd := &cobra.Command{
		Use: "server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validate(); err != nil {
				return err
			}
			return c.run()
		},
	}
	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringVarP(&c.addr, "addr", "", "", "Address to listen for requests")
	persistentFlags.StringVarP(&c.dbURL, "db", "", "", "Database DSN (sqlite path, postgres:// or mysql:// URL)")
	persistentFlags.StringVarP(&c.forwardingConfig, "forwarding-config", "", "", "Path of the forwarding config consumed by the agent")

	cmd.MarkPersistentFlagRequired("addr")
	cmd.MarkPersistentFlagRequired("db")
	cmd.MarkPersistentFlagRequired("forwarding-config")
	return cmd
}
