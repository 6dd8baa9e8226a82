package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ent0n29/imsgrelay/internal/config"
)

var version = "dev"

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// cli carries global flags and the logger shared by subcommands.
type cli struct {
	configPath string
	logLevel   string
	dryRun     bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "imsgrelay",
		Short: "Relay new iMessage messages through a reply policy",
		Long: `imsgrelay polls one iMessage conversation, answers each new inbound
message through a reply policy and sends the reply back in ordered parts.

Run without a subcommand to start the relay.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.applyFlags()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runRelay(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file (APP_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug|info|warn|error (APP_LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&c.dryRun, "dry-run", false, "log replies instead of sending them (RELAY_DRY_RUN)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(c),
		newCursorCmd(c),
		newChunkCmd(),
		newDoctorCmd(c),
	)
	return root
}

// applyFlags maps global flags onto their environment keys so config
// precedence stays env > file > defaults.
func (c *cli) applyFlags() error {
	if p := strings.TrimSpace(c.configPath); p != "" {
		if err := os.Setenv("APP_CONFIG_FILE", p); err != nil {
			return err
		}
	}
	if l := strings.TrimSpace(c.logLevel); l != "" {
		if err := os.Setenv("APP_LOG_LEVEL", l); err != nil {
			return err
		}
	}
	if c.dryRun {
		if err := os.Setenv("RELAY_DRY_RUN", "true"); err != nil {
			return err
		}
	}
	return nil
}

// load returns validated config; lenient skips cross-field checks for
// diagnostic commands.
func (c *cli) load(lenient bool) (config.Config, error) {
	path := os.Getenv("APP_CONFIG_FILE")
	if lenient {
		return config.Parse(path)
	}
	return config.LoadFile(path)
}

func (c *cli) initLogger(cfg config.Config) (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		zc = zap.NewDevelopmentConfig()
	}
	if strings.TrimSpace(level) != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
