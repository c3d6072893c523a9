package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/rdb/internal/api"
	"github.com/erazemk/rdb/internal/auth"
	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/jobs"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job workers and the janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	// Auto-init on first run.
	if _, err := os.Stat(a.cfg.DB); os.IsNotExist(err) {
		database, password, err := initDatabase(a.cfg.DB, a.cfg.AdminUser)
		if err != nil {
			return err
		}
		database.Close()
		printInitResult(a.cfg.DB, a.cfg.AdminUser, password)
		fmt.Println()
	}

	database, err := openDatabase(a.cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()
	a.logger.Info("database ready", "path", a.cfg.DB)

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting jwt secret: %w", err)
	}

	queue := jobs.NewQueue(database, a.cfg.QueueSize, a.logger.With("component", "jobs"))
	engine := history.New(a.cfg.Labels, a.logger.With("component", "history"))
	svc := service.New(database, engine, queue, a.logger)

	server := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           api.NewRouter(database, svc, auth.NewIssuer(jwtSecret, 0), queue, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server started", "addr", a.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})
	g.Go(func() error { return queue.Run(ctx, a.cfg.Workers) })
	g.Go(func() error { return queue.Janitor(ctx, a.cfg.JanitorInterval) })

	err = g.Wait()
	a.logger.Info("server stopped, closing database")
	return err
}

// openDatabase opens the database and ensures the schema exists.
func openDatabase(path string) (*sql.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return database, nil
}
