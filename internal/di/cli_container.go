package di

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/logging"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// Configuration overrides
	ConfigFile string
	EnvFile    string
	Classifier string
	Storage    string
	Database   string

	// Input flags
	InputFile string
	Verbose   bool
	JSONLog   bool

	// Actions
	Why        int64
	Correct    string
	Reason     string
	Pin        string
	Unpin      string
	AutoSpam   string
	NoAutoSpam string
	Prune      bool
}

// ParseFlags parses command line arguments into a CLIFlags struct
func ParseFlags(name string, args []string) (*CLIFlags, error) {
	flags := &CLIFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file")
	fs.StringVar(&flags.EnvFile, "env", ".env", "File of SMS_FILTER_ environment overrides, ignored if missing")
	fs.StringVar(&flags.Classifier, "classifier", "", "Classifier type (rule, contextual, model)")
	fs.StringVar(&flags.Storage, "storage", "", "Storage type (sqlite, memory)")
	fs.StringVar(&flags.Database, "db", "", "SQLite database path")

	fs.StringVar(&flags.InputFile, "file", "-", "Input messages as JSON lines (- for stdin)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	fs.Int64Var(&flags.Why, "why", 0, "Explain the category of a stored message")
	fs.StringVar(&flags.Correct, "correct", "", "Correct a message, as ID=CATEGORY")
	fs.StringVar(&flags.Reason, "reason", "", "Reason recorded with -correct")
	fs.StringVar(&flags.Pin, "pin", "", "Pin a sender to the inbox")
	fs.StringVar(&flags.Unpin, "unpin", "", "Remove a sender's pin")
	fs.StringVar(&flags.AutoSpam, "autospam", "", "Send everything from a sender to spam")
	fs.StringVar(&flags.NoAutoSpam, "no-autospam", "", "Clear a sender's auto-spam mark")
	fs.BoolVar(&flags.Prune, "prune", false, "Prune the audit log and purge deleted messages past retention")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// ParseCorrection splits an ID=CATEGORY argument
func ParseCorrection(arg string) (int64, core.Category, error) {
	idPart, catPart, ok := strings.Cut(arg, "=")
	if !ok {
		return 0, "", fmt.Errorf("%w: expected ID=CATEGORY, got %q", core.ErrValidation, arg)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid message id %q", core.ErrValidation, idPart)
	}
	category, err := core.ParseCategory(catPart)
	if err != nil {
		return 0, "", err
	}
	return id, category, nil
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration with command line overrides
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if err := loadEnvFile(flags.EnvFile); err != nil {
			return nil, err
		}
		cfg, err := config.New(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Info("Loaded configuration from file", zap.String("file", used))
		}
		applyOverrides(cfg, flags)
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	if err := provideComponents(container); err != nil {
		return nil, err
	}
	return container, nil
}

// loadEnvFile exports the variables in path that are not already set
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyOverrides(cfg *config.Config, flags *CLIFlags) {
	v := cfg.GetViper()
	if flags.Classifier != "" {
		v.Set("classifier.type", flags.Classifier)
	}
	if flags.Storage != "" {
		v.Set("storage.type", flags.Storage)
	}
	if flags.Database != "" {
		v.Set("storage.path", flags.Database)
	}
}
