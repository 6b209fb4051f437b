package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tphakala/go-soar"
	"github.com/tphakala/go-soar/internal/manifest"
)

func newContainerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "container",
		Aliases: []string{"containers"},
		Short:   "Manage containers",
	}

	cmd.AddCommand(newContainerShowCommand(a))
	cmd.AddCommand(newContainerCreateCommand(a))
	cmd.AddCommand(newContainerDeleteCommand(a))
	cmd.AddCommand(newContainerExportCommand(a))
	cmd.AddCommand(newContainerAttachCommand(a))

	return cmd
}

func newContainerShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a container with its artifacts and playbook runs",
		Example: `  # Show container 42
  soarctl container show 42

  # Full state as JSON
  soarctl container show 42 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			c := soar.NewContainer(soar.Fields{"id": id})
			if err := client.UpdateContainerValues(cmd.Context(), c); err != nil {
				return err
			}

			if a.jsonOutput() {
				return printJSON(a.out, c)
			}
			renderContainer(a.out, c)
			return nil
		},
	}
}

func newContainerCreateCommand(a *app) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a container from a manifest",
		Long: `Create the container described by a YAML manifest, together with its
artifacts. Playbooks listed in the manifest are ignored; use
"soarctl playbook run" to run them.`,
		Example: `  soarctl container create -f incident.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if m.Container.ID != 0 {
				return fmt.Errorf("manifest %s references existing container %d", manifestPath, m.Container.ID)
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			c, err := client.CreateContainer(cmd.Context(), m.NewContainer())
			if err != nil {
				return err
			}
			log.Info().
				Int64("container_id", c.ID()).
				Int("artifacts", len(c.Artifacts)).
				Msg("Container created")

			if a.jsonOutput() {
				return printJSON(a.out, c)
			}
			renderContainer(a.out, c)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newContainerDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Short:   "Delete containers",
		Example: `  soarctl container delete 42 43`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			containers := make([]*soar.Container, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				containers = append(containers, soar.NewContainer(soar.Fields{"id": id}))
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			if err := client.Containers.Delete(cmd.Context(), containers...); err != nil {
				return err
			}
			for _, arg := range args {
				log.Info().Str("container_id", arg).Msg("Container deleted")
			}
			return nil
		},
	}
}

func newContainerExportCommand(a *app) *cobra.Command {
	var (
		output        string
		noAttachments bool
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Download a container as a gzipped tarball",
		Example: `  # Writes container-42.tgz to the current directory
  soarctl container export 42

  # Skip vault files
  soarctl container export 42 -o /tmp/c42.tgz --no-attachments`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			if output == "" {
				output = soar.ExportFileName(id)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(output)
				}
			}()

			if err := client.Containers.Export(cmd.Context(), id, f, !noAttachments); err != nil {
				return err
			}
			log.Info().Int64("container_id", id).Str("path", output).Msg("Container exported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default container-<id>.tgz)")
	cmd.Flags().BoolVar(&noAttachments, "no-attachments", false, "leave vault attachments out")

	return cmd
}

func newContainerAttachCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "attach <id> <file>...",
		Short:   "Upload files to the vault of a container",
		Example: `  soarctl container attach 42 capture.pcap notes.txt`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			uploads := make([]*soar.VaultUpload, 0, len(args)-1)
			for _, path := range args[1:] {
				up, err := client.Vault.UploadFile(cmd.Context(), path, id)
				if err != nil {
					return err
				}
				log.Info().
					Int64("container_id", id).
					Str("file", up.Name).
					Str("digest", up.Digest.String()).
					Msg("File uploaded")
				uploads = append(uploads, up)
			}

			if a.jsonOutput() {
				return printJSON(a.out, uploads)
			}
			t := newTable(a.out, "", table.Row{"File", "Type", "Size", "SHA256"})
			for _, up := range uploads {
				t.AppendRow(table.Row{up.Name, up.ContentType, up.Size, up.Digest.Encoded()})
			}
			t.Render()
			return nil
		},
	}
}
