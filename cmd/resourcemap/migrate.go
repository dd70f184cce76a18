package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/resourcemap/internal/demo"
	"github.com/conduit-lang/resourcemap/internal/orm/query"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var printOnly bool
	var driver string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the demo tables",
		Long:  "Create the department, employee and person tables in the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				dialect, err := query.DialectFor(driver)
				if err != nil {
					return err
				}
				for _, stmt := range demo.Migrations(dialect) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", stmt)
				}
				return nil
			}

			env, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := demo.Migrate(cmd.Context(), env.db, env.dialect); err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(),
				"Applied %d statements (%s)\n", len(demo.Migrations(env.dialect)), env.dialect.Name())
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	cmd.Flags().StringVar(&driver, "driver", "sqlite3", "driver whose DDL --print shows")
	return cmd
}
