// Package api exposes the encryption subsystem over REST: record and
// file encryption, 2FA-gated decryption, migration runs and the access
// log.
package api

import (
	_ "embed"
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/fieldlock/fieldlock/access"
	"github.com/fieldlock/fieldlock/audit"
	"github.com/fieldlock/fieldlock/blob"
	"github.com/fieldlock/fieldlock/codec"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/filecrypt"
	"github.com/fieldlock/fieldlock/identity"
	"github.com/fieldlock/fieldlock/migrate"
	"github.com/fieldlock/fieldlock/store"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config carries the external dependencies of the API.
type Config struct {
	Docs      store.Store
	Blobs     blob.Store
	Keys      *crypto.KeyProvider
	JWTSecret []byte
	Logger    *slog.Logger
}

// API holds the assembled subsystem behind the REST handlers.
type API struct {
	docs     store.Store
	blobs    blob.Store
	fields   *codec.FieldCodec
	files    *filecrypt.Codec
	gate     *access.Gate
	recorder *audit.Recorder
	log      *audit.Log
	migrator *migrate.Engine
	verifier *identity.Verifier
	logger   *slog.Logger
}

// New wires the subsystem together from its external dependencies.
func New(ctx context.Context, cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	engine := crypto.NewEngine(cfg.Keys)
	fields := codec.NewFieldCodec(engine, logger)
	return &API{
		docs:     cfg.Docs,
		blobs:    cfg.Blobs,
		fields:   fields,
		files:    filecrypt.NewCodec(engine, cfg.Blobs, logger),
		gate:     access.NewGate(cfg.Docs, logger),
		recorder: audit.NewRecorder(ctx, cfg.Docs, logger),
		log:      audit.NewLog(cfg.Docs, cfg.Keys),
		migrator: migrate.NewEngine(cfg.Docs, fields, logger),
		verifier: identity.NewVerifier(cfg.JWTSecret, cfg.Docs),
		logger:   logger,
	}
}

// Close drains the audit recorder.
func (a *API) Close() {
	a.recorder.Close()
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)

		r.Post("/records/{kind}/encrypt", a.EncryptRecord)
		r.Post("/records/{kind}/{id}/decrypt", a.DecryptRecord)

		r.Post("/files/encrypt", a.EncryptFile)
		r.Post("/files/decrypt", a.DecryptFile)
		r.Get("/files/status", a.FileStatus)

		r.Post("/2fa/enroll", a.Enroll2FA)
		r.Get("/2fa/devices", a.ListTrustedDevices)
		r.Delete("/2fa/devices/{deviceID}", a.RevokeTrustedDevice)

		r.Post("/migrate", a.Migrate)
		r.Get("/migrate/status", a.MigrateStatus)

		r.Get("/access-logs", a.ListAccessLogs)
		r.Get("/access-logs/export", a.ExportAccessLogs)
	})

	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
