package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tphakala/go-soar"
	"github.com/tphakala/go-soar/internal/manifest"
)

func newPlaybookCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "playbook",
		Aliases: []string{"playbooks"},
		Short:   "List and run playbooks",
	}

	cmd.AddCommand(newPlaybookListCommand(a))
	cmd.AddCommand(newPlaybookRunCommand(a))

	return cmd
}

func newPlaybookListCommand(a *app) *cobra.Command {
	var (
		limit      int
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List playbook definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}

			query := soar.Query{"sort": "name", "order": "asc"}
			if activeOnly {
				query["_filter_active"] = true
			}
			seq := client.Playbooks.List(cmd.Context(), query)
			var playbooks []*soar.Playbook
			if limit > 0 {
				playbooks, err = soar.CollectN(seq, limit)
			} else {
				playbooks, err = soar.Collect(seq)
			}
			if err != nil {
				return err
			}

			if a.jsonOutput() {
				return printJSON(a.out, playbooks)
			}
			t := newTable(a.out, "", table.Row{"ID", "Name", "Active"})
			for _, p := range playbooks {
				t.AppendRow(table.Row{p.PlaybookID(), p.Name(), p.GetBool("active")})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of playbooks, 0 for all")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active playbooks")

	return cmd
}

func newPlaybookRunCommand(a *app) *cobra.Command {
	var (
		manifestPath string
		containerID  int64
		suppress     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the playbooks of a manifest",
		Long: `Run the playbooks listed in a manifest against its container and answer
their prompts with the manifest's answers.

The container is created first unless the manifest (or --container)
names an existing one. Manifest artifacts are only created with a new
container. Without --suppress-errors the first failed playbook
stops the batch.`,
		Example: `  # Create the container and run its playbooks
  soarctl playbook run -f incident.yaml

  # Run against an existing container, reporting every failure
  soarctl playbook run -f triage.yaml --container 42 --suppress-errors`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Read(manifestPath)
			if err != nil {
				return err
			}
			if containerID != 0 {
				m.Container.ID = containerID
			}
			if suppress {
				m.SuppressErrors = true
			}
			if err := m.Validate(); err != nil {
				return fmt.Errorf("%s: %w", manifestPath, err)
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c := m.NewContainer()
			if c.HasID() {
				err = client.UpdateContainerValues(ctx, c)
			} else {
				_, err = client.CreateContainer(ctx, c)
			}
			if err != nil {
				return err
			}

			log.Info().
				Int64("container_id", c.ID()).
				Int("playbooks", len(m.Playbooks)).
				Msg("Running playbooks")

			results, runErr := client.RunPlaybooks(ctx, c, m.NewPlaybooks(), m.RunOptions()...)
			if a.jsonOutput() {
				if err := printJSON(a.out, resultViews(results)); err != nil {
					return err
				}
			} else if len(results) > 0 {
				renderResults(a.out, results)
			}
			if runErr != nil {
				return runErr
			}

			var failed int
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d playbooks failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "manifest file")
	cmd.Flags().Int64Var(&containerID, "container", 0, "existing container id")
	cmd.Flags().BoolVar(&suppress, "suppress-errors", false, "keep running after a failed playbook")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
