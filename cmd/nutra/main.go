package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	root := &cobra.Command{
		Use:          "nutra",
		Short:        "Nora, a conversational nutrition assistant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load when present")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = opts.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newAskCmd(opts), newContactsCmd(opts))
	return root
}

// load binds the running command's flags onto the config keys and reads the
// configuration. Binding happens per command because several subcommands
// expose flags for the same key.
func (o *rootOptions) load(flags *pflag.FlagSet, keys map[string]string) (config.Config, error) {
	for key, name := range keys {
		if err := o.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return config.Config{}, fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return config.Load(o.v, o.envFile, o.configFile)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
