package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/fieldlock/fieldlock/api"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/internal/util"
)

var (
	port    int
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the field encryption service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		jwtSecret := os.Getenv("FIELDLOCK_JWT_SECRET")
		if jwtSecret == "" {
			return fmt.Errorf("FIELDLOCK_JWT_SECRET is required")
		}

		docs, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		blobs, err := openBlobs(ctx)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		keys := crypto.NewKeyProvider()
		// Fail fast on a missing or malformed ENCRYPTION_KEY instead of
		// erroring on the first encryption request.
		k, err := keys.Key()
		if err != nil {
			return err
		}
		util.WipeBytes(k)

		a := api.New(ctx, api.Config{
			Docs:      docs,
			Blobs:     blobs,
			Keys:      keys,
			JWTSecret: []byte(jwtSecret),
			Logger:    logger,
		})
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (store: %s, blobs: %s)...\n", port, storeBackend, blobBackend)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	addStoreFlags(serverCmd.Flags())
	addBlobFlags(serverCmd.Flags())
}
