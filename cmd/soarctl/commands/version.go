package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		Long: `Show the soarctl version and the version reported by the SOAR server.

The server call also verifies the configured credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			server, err := client.Version(cmd.Context())
			if err != nil {
				return err
			}

			if a.jsonOutput() {
				return printJSON(a.out, map[string]string{
					"client": a.version,
					"server": server,
				})
			}
			fmt.Fprintf(a.out, "soarctl %s\nSOAR %s\n", a.version, server)
			return nil
		},
	}
}
