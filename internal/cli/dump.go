package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orizon-lang/tensorir/internal/tirfile"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dump <file>",
		Short:         "Print the textual form of a tensor IR module",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := tirfile.Load(args[0])
			if err != nil {
				return err
			}
			rootOpts.logger().Debug("loaded module", zap.String("module", m.Name), zap.Int("functions", len(m.Functions)))
			_, err = fmt.Fprint(cmd.OutOrStdout(), m.String())
			return err
		},
	}
}
