package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ToolName is the name the verifier reports itself under.
const ToolName = "tir-verify"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string

	// Config and Logger are filled in before a subcommand runs. Tests may set
	// them directly.
	Config *Config
	Logger *zap.Logger
}

func (o *RootOptions) config() *Config {
	if o.Config == nil {
		o.Config = DefaultConfig()
	}
	return o.Config
}

func (o *RootOptions) logger() *zap.Logger {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o.Logger
}

// NewRootCommand creates the root command for tir-verify.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   ToolName,
		Short: "Verify tensor IR modules",
		Long: `Load tensor IR modules from YAML descriptions and check the structural
contract of every instruction before the module is handed to code generation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func (o *RootOptions) setup() error {
	if o.Config == nil {
		cfg, err := LoadConfig(o.ConfigPath)
		if err != nil {
			return err
		}
		o.Config = cfg
	}
	if o.Logger == nil {
		logger, err := NewLogger(o.Verbose || o.Config.Verbose)
		if err != nil {
			return err
		}
		o.Logger = logger
	}
	return nil
}
