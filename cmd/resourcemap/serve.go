package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/resourcemap/internal/demo"
	"github.com/conduit-lang/resourcemap/internal/orm/session"
	"github.com/conduit-lang/resourcemap/internal/orm/validation"
	"github.com/conduit-lang/resourcemap/internal/repository"
	"github.com/conduit-lang/resourcemap/internal/web"
	"github.com/conduit-lang/resourcemap/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo resources over HTTP",
		Long:  "Start the JSON:API server for the department, employee and person resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if migrate {
				if err := demo.Migrate(ctx, env.db, env.dialect); err != nil {
					return err
				}
			}

			srv, err := newServer(env)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the demo tables before serving")
	return cmd
}

// newServer assembles the entity manager, repository and HTTP handler
func newServer(env *environment) (*server.Server, error) {
	entities, resources, err := demo.Register()
	if err != nil {
		return nil, err
	}
	manager, err := session.NewManager(env.db, env.dialect, entities, env.logger)
	if err != nil {
		return nil, err
	}
	isolation, err := session.ParseIsolation(env.config.Database.Isolation)
	if err != nil {
		return nil, err
	}
	manager = manager.WithIsolation(isolation)
	repo, err := repository.New(manager, resources, repository.Config{
		DefaultLimit: env.config.Pagination.DefaultLimit,
		Validator:    validation.NewEngine(),
		Logger:       env.logger,
	})
	if err != nil {
		return nil, err
	}
	h, err := web.New(web.Config{Transactor: manager, Repository: repo, Logger: env.logger})
	if err != nil {
		return nil, err
	}

	var handler http.Handler = h.Routes()
	if prefix := env.config.Server.APIPrefix; prefix != "" {
		r := chi.NewRouter()
		r.Mount(prefix, handler)
		handler = r
	}
	return server.New(server.DefaultConfig(env.config.Server.Address(), handler), env.logger)
}

