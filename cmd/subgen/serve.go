package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/config"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/httpapi"
	"github.com/John-Robertt/subgen-go/internal/log"
	"github.com/John-Robertt/subgen-go/internal/store"
)

func newServeCmd(rf *rootFlags) *cobra.Command {
	var listen, publicBaseURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("public-base-url") {
				cfg.PublicBaseURL = publicBaseURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP 监听地址（覆盖 listen）")
	cmd.Flags().StringVar(&publicBaseURL, "public-base-url", "", "订阅链接的对外地址（覆盖 public_base_url）")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	cat, err := catalog.LoadFiles(cfg.Catalog.Business, cfg.Catalog.Supplementary)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.StoreConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warnln("[Store] close failed: %v", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go store.RunSweeper(sweepCtx, st, cfg.Store.SweepInterval)

	base := cfg.Base.Settings()
	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewHandlerWithOptions(httpapi.Options{
			RequestTimeout:   cfg.RequestTimeout,
			PublicBaseURL:    cfg.PublicBaseURL,
			Fetcher:          fetch.New(cfg.Fetch.Options()),
			FetchConcurrency: cfg.Fetch.Concurrency,
			Store:            st,
			TTL:              cfg.Store.TTL,
			Catalog:          cat,
			Base:             &base,
		}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	log.Infoln("listening on http://%s (store=%s)", cfg.Listen, cfg.Store.Driver)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Infoln("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Warnln("graceful shutdown failed: %v", err)
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
