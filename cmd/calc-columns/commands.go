package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitebski/calc-columns/internal/analyzer"
	"github.com/vitebski/calc-columns/internal/calculator"
	"github.com/vitebski/calc-columns/internal/db"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/internal/generator"
	"github.com/vitebski/calc-columns/internal/server"
	"github.com/vitebski/calc-columns/internal/uploads"
	"github.com/vitebski/calc-columns/internal/utils"
)

// scope holds the user and upload a command acts on
type scope struct {
	userID   int64
	uploadID int64
}

func (s *scope) bind(cmd *cobra.Command, uploadRequired bool) {
	cmd.Flags().Int64Var(&s.userID, "owner", 1, "Id of the user that owns the data")
	cmd.Flags().Int64Var(&s.uploadID, "upload", 0, "Upload id")
	if uploadRequired {
		_ = cmd.MarkFlagRequired("upload")
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			files, err := db.MigrationFiles()
			if err != nil {
				return err
			}
			opts.logger.Debugf("Embedded migrations: %v", files)

			return db.RunMigrations(cmd.Context(), conn.DB, opts.logger)
		},
	}
}

func newUploadsCmd(opts *rootOptions) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List a user's uploads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			list, err := uploads.NewRepository(conn, opts.logger).List(cmd.Context(), userID)
			if err != nil {
				return err
			}
			for _, u := range list {
				fmt.Printf("%d\t%s\t%d rows\t%s\n", u.ID, u.Filename, u.RowCount, strings.Join(u.ColumnNames, ","))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "owner", 1, "Id of the user that owns the uploads")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculated column HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.Server.Addr = addr
			}
			if err := opts.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			if migrate {
				if err := db.RunMigrations(cmd.Context(), conn.DB, opts.logger); err != nil {
					return err
				}
			}

			handler := server.NewHandler(opts.newService(conn), opts.cfg.Server.MaxRowsPerPage, opts.logger)
			return server.Run(cmd.Context(), server.NewRouter(handler, opts.logger), server.Options{
				Addr:         opts.cfg.Server.Addr,
				ReadTimeout:  opts.cfg.Server.ReadTimeout,
				WriteTimeout: opts.cfg.Server.WriteTimeout,
			}, opts.logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply migrations before serving")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		s       scope
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "validate FORMULA",
		Short: "Validate a formula against an upload or a list of columns",
		Long: `Validate a formula. With --upload the formula is checked against the
upload's columns and calculated columns; otherwise against --columns and
no database connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result formula.ValidationResult

			if s.uploadID == 0 {
				result = formula.Validate(args[0], columns)
			} else {
				conn, err := opts.connect(cmd.Context())
				if err != nil {
					return err
				}
				defer conn.Disconnect()

				result, err = opts.newService(conn).Validate(cmd.Context(), s.userID, s.uploadID, args[0])
				if err != nil {
					return err
				}
			}

			utils.PrintValidationReport(os.Stdout, args[0], result)
			if !result.IsValid {
				return fmt.Errorf("formula is invalid")
			}
			return nil
		},
	}

	s.bind(cmd, false)
	cmd.Flags().StringSliceVarP(&columns, "columns", "c", nil, "Known column names when no upload is given")
	return cmd
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	var s scope

	cmd := &cobra.Command{
		Use:   "preview FORMULA",
		Short: "Evaluate a formula over the first rows of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			result, err := opts.newService(conn).Preview(cmd.Context(), s.userID, s.uploadID, args[0])
			if err != nil {
				return err
			}
			utils.PrintPreviewReport(os.Stdout, result)
			return nil
		},
	}

	s.bind(cmd, true)
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  int64
		rows    int
		symbol  string
		badRate float64
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a synthetic OHLCV upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows <= 0 {
				return fmt.Errorf("--rows must be positive, got %d", rows)
			}

			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			gen := generator.NewDataGenerator(seed, opts.logger)
			data := gen.GenerateRows(rows, generator.Options{Symbol: symbol, BadCellRate: badRate})
			if sym, ok := data[0]["Symbol"].(string); ok {
				symbol = sym
			}

			upload, err := uploads.NewRepository(conn, opts.logger).
				Create(cmd.Context(), userID, gen.Filename(symbol), generator.OHLCVColumns, data)
			if err != nil {
				return err
			}

			fmt.Printf("Created upload %d (%s) with %d rows for user %d\n",
				upload.ID, upload.Filename, upload.RowCount, upload.UserID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "owner", 1, "Id of the user that owns the upload")
	cmd.Flags().IntVarP(&rows, "rows", "r", 250, "Number of daily rows to generate")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Ticker symbol (random when empty)")
	cmd.Flags().Float64Var(&badRate, "bad-rate", 0, "Share of price cells replaced with "+generator.MissingValue)
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 uses the clock)")
	return cmd
}

func newColumnsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Manage calculated columns",
	}

	var listScope scope
	list := &cobra.Command{
		Use:   "list",
		Short: "List the calculated columns of an upload, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			cols, err := opts.newService(conn).List(cmd.Context(), listScope.userID, listScope.uploadID)
			if err != nil {
				return err
			}
			for _, c := range cols {
				fmt.Printf("%d\t%s\t%s\t%s\n", c.ID, c.ColumnName, c.Formula, c.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	listScope.bind(list, true)

	var saveScope scope
	save := &cobra.Command{
		Use:   "save NAME FORMULA",
		Short: "Validate and store a calculated column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			col, err := opts.newService(conn).Save(cmd.Context(), saveScope.userID, saveScope.uploadID, args[0], args[1])
			if err != nil {
				var ve *calculator.ValidationFailedError
				if errors.As(err, &ve) {
					utils.PrintValidationReport(os.Stdout, args[1], formula.ValidationResult{Errors: ve.Errors})
				}
				return err
			}
			fmt.Printf("Saved calculated column %d: %s = %s\n", col.ID, col.ColumnName, col.Formula)
			return nil
		},
	}
	saveScope.bind(save, true)

	var deleteOwner int64
	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a calculated column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			columnID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid column id %q", args[0])
			}

			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			if err := opts.newService(conn).Delete(cmd.Context(), deleteOwner, columnID); err != nil {
				return err
			}
			fmt.Printf("Deleted calculated column %d\n", columnID)
			return nil
		},
	}
	del.Flags().Int64Var(&deleteOwner, "owner", 1, "Id of the user that owns the column")

	cmd.AddCommand(list, save, del)
	return cmd
}

func newMaterializeCmd(opts *rootOptions) *cobra.Command {
	var (
		s      scope
		limit  int
		offset int
		deps   bool
	)

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Print upload rows with every calculated column evaluated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Disconnect()

			svc := opts.newService(conn)
			data, err := svc.Materialize(cmd.Context(), s.userID, s.uploadID, limit, offset)
			if err != nil {
				return err
			}

			if deps {
				calculated, err := svc.List(cmd.Context(), s.userID, s.uploadID)
				if err != nil {
					return err
				}
				da := analyzer.NewDependencyAnalyzer(data.Columns, calculated, opts.logger)
				if err := da.Analyze(); err != nil {
					return err
				}
				utils.PrintDependencyReport(os.Stdout, da)
			}

			utils.PrintMaterializeSummary(os.Stdout, data)
			return nil
		},
	}

	s.bind(cmd, true)
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to print (capped at 1000)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&deps, "deps", false, "Also print the dependency report")
	return cmd
}
