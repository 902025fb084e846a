package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vitebski/calc-columns/internal/calculator"
	"github.com/vitebski/calc-columns/internal/config"
	"github.com/vitebski/calc-columns/internal/connector"
	"github.com/vitebski/calc-columns/internal/store"
	"github.com/vitebski/calc-columns/internal/uploads"
	"github.com/vitebski/calc-columns/internal/utils"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	host       string
	user       string
	password   string
	database   string
	port       string
	envFile    string
	logLevel   string
	configPath string

	cfg    *config.Config
	logger *logrus.Logger
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "calc-columns",
		Short: "Formula driven calculated columns for uploaded trading data",
		Long: `Calculated Columns

Validates, previews and evaluates arithmetic formulas over uploaded
OHLCV data and stores them as calculated columns in MySQL.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.host, "host", "H", "", "MySQL host (default: localhost)")
	flags.StringVarP(&opts.user, "user", "u", "", "MySQL user (default: root)")
	flags.StringVarP(&opts.password, "password", "p", "", "MySQL password")
	flags.StringVarP(&opts.database, "database", "d", "", "MySQL database name")
	flags.StringVarP(&opts.port, "port", "P", "", "MySQL port (default: 3306)")
	flags.StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newServeCmd(opts),
		newValidateCmd(opts),
		newPreviewCmd(opts),
		newSeedCmd(opts),
		newUploadsCmd(opts),
		newColumnsCmd(opts),
		newMaterializeCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup builds the logger and resolves configuration. Flags win over the
// environment, which wins over the config file.
func (o *rootOptions) setup() error {
	o.logger = utils.SetupLogging(o.logLevel)
	utils.LoadEnvironmentVariables(o.envFile, o.logger)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.Host, o.host)
	override(&cfg.Database.User, o.user)
	override(&cfg.Database.Password, o.password)
	override(&cfg.Database.Name, o.database)
	override(&cfg.Database.Port, o.port)
	cfg.Server.MaxRowsPerPage = utils.GetEnvInt("CALC_MAX_ROWS_PER_PAGE", cfg.Server.MaxRowsPerPage)

	if o.logLevel == "" {
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			o.logger.SetLevel(level)
		}
	}

	o.cfg = cfg
	return nil
}

func (o *rootOptions) connect(ctx context.Context) (*connector.DatabaseConnector, error) {
	d := o.cfg.Database
	if !utils.ValidateConnectionParams(d.Host, d.User, d.Password, d.Name, d.Port, o.logger) {
		return nil, fmt.Errorf("invalid connection parameters")
	}

	conn := connector.NewDatabaseConnector(d.Host, d.User, d.Password, d.Name, d.Port, o.logger)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func (o *rootOptions) newService(conn *connector.DatabaseConnector) *calculator.Service {
	return calculator.NewService(
		uploads.NewRepository(conn, o.logger),
		store.NewCalculatedColumnStore(conn, o.logger),
		o.logger,
	)
}
