// Command myfs formats, inspects, and edits myfs volume images. Files are
// named by inode number.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mit-pdos/go-myfs/config"
)

type logLevelFlag struct {
	Level dlog.LogLevel
}

var _ pflag.Value = (*logLevelFlag)(nil)

// Type implements pflag.Value.
func (lvl *logLevelFlag) Type() string { return "loglevel" }

// Set implements pflag.Value.
func (lvl *logLevelFlag) Set(str string) error {
	switch strings.ToLower(str) {
	case "error":
		lvl.Level = dlog.LogLevelError
	case "warn", "warning":
		lvl.Level = dlog.LogLevelWarn
	case "info":
		lvl.Level = dlog.LogLevelInfo
	case "debug":
		lvl.Level = dlog.LogLevelDebug
	case "trace":
		lvl.Level = dlog.LogLevelTrace
	default:
		return fmt.Errorf("invalid log level: %q", str)
	}
	return nil
}

// String implements pflag.Value.
func (lvl *logLevelFlag) String() string {
	switch lvl.Level {
	case dlog.LogLevelError:
		return "error"
	case dlog.LogLevelWarn:
		return "warn"
	case dlog.LogLevelInfo:
		return "info"
	case dlog.LogLevelDebug:
		return "debug"
	case dlog.LogLevelTrace:
		return "trace"
	default:
		panic(fmt.Errorf("invalid log level: %#v", lvl.Level))
	}
}

func (lvl *logLevelFlag) logrus() logrus.Level {
	switch lvl.Level {
	case dlog.LogLevelError:
		return logrus.ErrorLevel
	case dlog.LogLevelWarn:
		return logrus.WarnLevel
	case dlog.LogLevelDebug:
		return logrus.DebugLevel
	case dlog.LogLevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	logLevel   logLevelFlag
	configFile string
	readOnly   bool
	journal    bool
	cfg        *config.Config
}

func (g *globals) setup(cmd *cobra.Command, _ []string) error {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(g.logLevel.logrus())
	cmd.SetContext(dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger)))

	cfg, err := config.Load(g.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("read-only") {
		cfg.ReadOnly = g.readOnly
	}
	if flags.Changed("journal") {
		cfg.Journal = g.journal
	}
	if g.logLevel.Level >= dlog.LogLevelTrace && cfg.Debug < 5 {
		cfg.Debug = 5
	}
	cfg.Apply()
	g.cfg = cfg
	return nil
}

func main() {
	g := &globals{logLevel: logLevelFlag{Level: dlog.LogLevelInfo}}

	argparser := &cobra.Command{
		Use:   "myfs {[flags]|SUBCOMMAND}",
		Short: "Create and manipulate myfs volume images",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		PersistentPreRunE: g.setup,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&g.logLevel, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringVar(&g.configFile, "config", "", "load settings from the YAML file `config.yaml`")
	if err := argparser.MarkPersistentFlagFilename("config", "yaml", "yml"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().BoolVar(&g.readOnly, "read-only", false, "mount the volume read-only")
	argparser.PersistentFlags().BoolVar(&g.journal, "journal", false, "route metadata writes through the journal")

	for _, mk := range subcommands {
		argparser.AddCommand(mk(g))
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
