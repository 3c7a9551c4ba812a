package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orizon-lang/tensorir/internal/diagnostic"
	"github.com/orizon-lang/tensorir/internal/tir"
	"github.com/orizon-lang/tensorir/internal/tirfile"
	"github.com/orizon-lang/tensorir/internal/watch"
)

type verifyOptions struct {
	failFast  bool
	maxErrors int
	ignore    []string
	snippet   bool
	watch     bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	vo := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify every instruction of a tensor IR module",
		Long: `Load a YAML module description, verify every function and print one
diagnostic per violated contract. Exits with status 1 when violations remain
after filtering.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := vo.apply(rootOpts.config(), cmd.Flags())
			logger := rootOpts.logger()
			if vo.watch {
				return watchAndVerify(cmd.Context(), cmd.OutOrStdout(), args[0], cfg, logger)
			}
			return runVerify(cmd.OutOrStdout(), args[0], cfg, logger)
		},
	}

	cmd.Flags().BoolVar(&vo.failFast, "fail-fast", false, "stop each function at its first violation")
	cmd.Flags().IntVar(&vo.maxErrors, "max-errors", 0, "stop reporting after N violations (0 = no limit)")
	cmd.Flags().StringSliceVar(&vo.ignore, "ignore", nil, "rule codes to ignore, e.g. TIR302")
	cmd.Flags().BoolVar(&vo.snippet, "snippet", true, "print the offending instruction")
	cmd.Flags().BoolVarP(&vo.watch, "watch", "w", false, "re-verify whenever the file changes")

	return cmd
}

// apply overlays the flags that were set explicitly on a copy of base.
func (vo *verifyOptions) apply(base *Config, flags *pflag.FlagSet) *Config {
	cfg := *base
	if flags.Changed("fail-fast") {
		cfg.FailFast = vo.failFast
	}
	if flags.Changed("max-errors") {
		cfg.MaxErrors = vo.maxErrors
	}
	if flags.Changed("ignore") {
		cfg.IgnoreCodes = append(append([]string(nil), cfg.IgnoreCodes...), vo.ignore...)
	}
	if flags.Changed("snippet") {
		cfg.ShowSnippet = vo.snippet
	}
	return &cfg
}

func runVerify(w io.Writer, path string, cfg *Config, logger *zap.Logger) error {
	n, err := verifyFile(w, path, cfg, logger)
	if err != nil {
		return err
	}
	if n > 0 {
		return WithExitCode(ExitVerifyFailed, errors.Newf("%s: %d violation(s)", path, n))
	}
	return nil
}

// verifyFile loads and verifies the module at path, writes the diagnostics to
// w and returns the number of errors that survived filtering.
func verifyFile(w io.Writer, path string, cfg *Config, logger *zap.Logger) (int, error) {
	if cfg.MaxErrors < 0 {
		return 0, WithExitCode(ExitUsage, errors.Newf("--max-errors must not be negative, got %d", cfg.MaxErrors))
	}

	m, err := tirfile.Load(path)
	if err != nil {
		return 0, err
	}

	v := tir.NewVerifier(tir.WithLogger(logger), tir.WithFailFast(cfg.FailFast))
	r := v.VerifyModule(m)

	de := diagnostic.NewDiagnosticEngine(diagnostic.DiagnosticConfig{
		IgnoreCodes: cfg.IgnoreCodes,
		MaxErrors:   cfg.MaxErrors,
		ShowSnippet: cfg.ShowSnippet,
	})
	de.AddReport(r)

	if _, err := fmt.Fprint(w, de.FormatDiagnostics()); err != nil {
		return 0, errors.WithStack(err)
	}

	n := len(de.GetErrors())
	logger.Debug("verified file",
		zap.String("path", path),
		zap.String("module", m.Name),
		zap.Int("violations", len(r.Violations)),
		zap.Int("reported", n))
	return n, nil
}

// watchAndVerify verifies path once and again after every change until ctx
// is done. Load failures are reported and do not end the watch.
func watchAndVerify(ctx context.Context, out io.Writer, path string, cfg *Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w := watch.New(cfg.PollInterval)
	defer w.Close()

	if err := w.Add(path); err != nil {
		return errors.Wrapf(err, "watching %s", path)
	}

	run := func() {
		l := logger.With(zap.String("run_id", uuid.NewString()), zap.String("path", path))
		n, err := verifyFile(out, path, cfg, l)
		if err != nil {
			l.Warn("verification run failed", zap.Error(err))
			fmt.Fprintf(out, "error: %v\n", err)
			return
		}
		l.Info("verification run finished", zap.Int("violations", n))
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Op&(watch.OpRemove|watch.OpRename) != 0 {
				// Editors often replace the file on save; follow the new one.
				if err := w.Add(path); err != nil {
					logger.Warn("watched file is gone", zap.String("path", path), zap.Error(err))
					continue
				}
			} else if ev.Op&(watch.OpWrite|watch.OpCreate) == 0 {
				continue
			}
			run()
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}
