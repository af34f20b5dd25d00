package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "1.0.0"

// options are the flag values shared by every subcommand.
type options struct {
	configPath string
	port       string
	hostKey    string
	verbose    bool
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "live-quiz",
		Short:         "Real-time multiplayer quiz rooms over WebSocket",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "path to YAML config (env: LIVEQUIZ_CONFIG)")
	fs.StringVarP(&opts.port, "port", "p", "", "port to listen on, overrides server.port (env: LIVEQUIZ_PORT)")
	fs.StringVar(&opts.hostKey, "host-key", "", "shared secret for host commands, overrides host.key (env: LIVEQUIZ_HOST_KEY)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging (env: LIVEQUIZ_VERBOSE)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return bindEnv(cmd.Flags())
	}

	cmd.AddCommand(newStartCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("live-quiz v{{.Version}}\n")
	return cmd
}

// bindEnv fills every flag the user did not pass from its LIVEQUIZ_* variable.
func bindEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix("LIVEQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if setErr := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); setErr != nil && err == nil {
				err = fmt.Errorf("env for --%s: %w", f.Name, setErr)
			}
		}
	})
	return err
}
