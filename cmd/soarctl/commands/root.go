// Package commands implements the soarctl command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/go-soar"
)

const envPrefix = "SOARCTL"

// app carries the configuration shared by all subcommands.
type app struct {
	v       *viper.Viper
	version string
	out     io.Writer
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{v: viper.New(), version: version, out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:   "soarctl",
		Short: "soarctl - Splunk SOAR automation client",
		Long: `soarctl drives a Splunk SOAR instance over its REST API.

It creates containers from YAML manifests, runs playbooks against them and
answers their prompts, and shows the resulting container state.

Settings come from flags, SOARCTL_* environment variables (for example
SOARCTL_URL and SOARCTL_TOKEN) or a ~/.soarctl.yaml config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return a.initConfig()
		},
	}

	a.addPersistentFlags(rootCmd)

	rootCmd.AddCommand(newVersionCommand(a))
	rootCmd.AddCommand(newContainerCommand(a))
	rootCmd.AddCommand(newPlaybookCommand(a))

	return rootCmd
}

func (a *app) addPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path (default ~/.soarctl.yaml)")
	flags.String("url", "", "SOAR base URL")
	flags.String("token", "", "automation user auth token")
	flags.String("username", "", "basic auth username")
	flags.String("password", "", "basic auth password")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.Duration("timeout", 30*time.Second, "HTTP request timeout")
	flags.Duration("poll-interval", 2*time.Second, "playbook run poll interval")
	flags.Duration("run-timeout", 10*time.Minute, "maximum wait for a playbook run")
	flags.Bool("json", false, "output in JSON format")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	for _, name := range []string{
		"config", "url", "token", "username", "password", "insecure",
		"timeout", "poll-interval", "run-timeout", "json", "log-level",
	} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
}

func (a *app) initConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".soarctl")
		a.v.SetConfigType("yaml")
		if err := a.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config %s: %w", filepath.Join(home, ".soarctl.yaml"), err)
			}
		}
	}

	if level := a.v.GetString("log-level"); level != "" {
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zerolog.SetGlobalLevel(lvl)
	}
	return nil
}

// newClient builds the SOAR client from the resolved settings.
func (a *app) newClient() (*soar.Client, error) {
	opts := []soar.ClientOption{
		soar.WithBaseURL(a.v.GetString("url")),
		soar.WithUserAgent("soarctl/" + a.version),
		soar.WithTimeout(a.v.GetDuration("timeout")),
		soar.WithPollInterval(a.v.GetDuration("poll-interval")),
		soar.WithRunTimeout(a.v.GetDuration("run-timeout")),
		soar.WithLogger(log.Logger.With().Str("component", "soar").Logger()),
	}
	if token := a.v.GetString("token"); token != "" {
		opts = append(opts, soar.WithToken(token))
	}
	if user := a.v.GetString("username"); user != "" || a.v.GetString("password") != "" {
		opts = append(opts, soar.WithBasicAuth(user, a.v.GetString("password")))
	}
	if a.v.GetBool("insecure") {
		opts = append(opts, soar.WithInsecureSkipVerify())
	}
	return soar.NewClient(opts...)
}

func (a *app) jsonOutput() bool {
	return a.v.GetBool("json")
}
