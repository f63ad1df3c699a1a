package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"integrator/config"
	"integrator/controllers"
	"integrator/delivery"
	"integrator/models"
	"integrator/router"
	"integrator/store"
	"integrator/workers"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Get(path)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func setupLogOutput(path string) (io.Closer, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

// buildController wires store, audit writer and dispatcher from cfg. The
// returned cleanup drains detached audit writes and closes the database.
func buildController(cfg config.Configuration) (*controllers.IntegratorController, func(), error) {
	ic := &controllers.IntegratorController{
		Missing: cfg.MissingEnv(),
		Options: models.NormalizeOptions{LegacyKindAliases: cfg.Intake.LegacyKindAliases},
	}
	cleanup := func() {}

	if len(ic.Missing) > 0 {
		log.Printf("store not configured, submissions will fail with missing_env: %v", ic.Missing)
	} else {
		switch cfg.Store.Driver {
		case config.StoreDatabase:
			db, err := store.Connect(cfg)
			if err != nil {
				return nil, nil, err
			}
			ic.Store = store.NewDatabase(db)
			cleanup = func() { db.Close() }
		default:
			sb := store.NewSupabase(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey)
			sb.RPCFunction = cfg.Supabase.RPCFunction
			sb.AttemptsTable = cfg.Supabase.AttemptsTable
			sb.Schema = cfg.Supabase.Schema
			ic.Store = sb
		}
	}

	var audit *workers.AuditWriter
	if ic.Store != nil {
		audit = workers.NewAuditWriter(ic.Store, time.Duration(cfg.Audit.TimeoutMS)*time.Millisecond, cfg.Audit.Detached)
	}

	d := delivery.NewDispatcher(&http.Client{}, time.Duration(cfg.Delivery.TimeoutMS)*time.Millisecond, nil)
	d.ProviderID = cfg.Delivery.ProviderID
	d.ProviderName = cfg.Delivery.ProviderName
	d.UserAgent = cfg.Delivery.UserAgent
	if audit != nil {
		d.Recorder = audit
	}
	ic.Dispatcher = d

	closeStore := cleanup
	return ic, func() {
		audit.Wait()
		closeStore()
	}, nil
}

func serve(cfg config.Configuration) error {
	logFile, err := setupLogOutput(cfg.LogPath)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ic, cleanup, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := router.Initialize(r, cfg, ic); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ApiPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("integrator listening on :%s (store=%s)", cfg.ApiPort, cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("shutting down (%s)", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
