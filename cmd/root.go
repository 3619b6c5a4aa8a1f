// Package cmd holds the offshore command line.
package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pmkwilliams/offshore/config"
	"github.com/pmkwilliams/offshore/logger"
)

// EnvPrefix prefixes the environment variables overriding the configuration.
const EnvPrefix = "OFFSHORE"

// settings is filled by the root command before any subcommand runs.
type settings struct {
	file   string
	config config.Config
	log    *slog.Logger
}

// NewRootCommand returns the offshore command with every subcommand attached.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	s := &settings{config: config.Default()}
	rc := &cobra.Command{
		Use:   "offshore",
		Short: "Query collections through the offshore engine.",
		Long: `offshore loads collections from a JSON fixture into the in-memory adapter
and runs queries against them: criteria, sort, pagination and deep population.

Settings are read from an optional configuration file and from
OFFSHORE_* environment variables (e.g. OFFSHORE_LOG_LEVEL=DEBUG).
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(EnvPrefix, s.file)
			if err != nil {
				return err
			}
			s.config = cfg
			s.log = logger.Init(logger.Config{
				Level:     cfg.Log.Level,
				Format:    cfg.Log.Format,
				AddSource: cfg.Log.AddSource,
				Output:    stderr,
			})
			return nil
		},
	}
	rc.PersistentFlags().StringVarP(&s.file, "config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newQueryCommand(s, stdout))
	rc.AddCommand(newCriteriaCommand(stdin, stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}
