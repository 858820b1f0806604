package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fieldlock/fieldlock/blob"
	blobmem "github.com/fieldlock/fieldlock/blob/memory"
	blobs3 "github.com/fieldlock/fieldlock/blob/s3"
	"github.com/fieldlock/fieldlock/store"
	bboltstore "github.com/fieldlock/fieldlock/store/bbolt"
	pgstore "github.com/fieldlock/fieldlock/store/postgres"
)

// Backend flags shared by the server, migrate and status commands.
var (
	storeBackend string
	dataDir      string
	postgresDSN  string

	blobBackend string
	s3Bucket    string
	s3Region    string
	s3Endpoint  string
)

func addStoreFlags(flags *pflag.FlagSet) {
	flags.StringVar(&storeBackend, "store", "bbolt", "Document store backend: bbolt or postgres")
	flags.StringVar(&dataDir, "data-dir", "./data", "Directory for bbolt data files")
	flags.StringVar(&postgresDSN, "dsn", os.Getenv("FIELDLOCK_DSN"), "Postgres DSN (or FIELDLOCK_DSN)")
}

func addBlobFlags(flags *pflag.FlagSet) {
	flags.StringVar(&blobBackend, "blob", "memory", "Blob store backend: memory or s3")
	flags.StringVar(&s3Bucket, "s3-bucket", os.Getenv("FIELDLOCK_S3_BUCKET"), "S3 bucket name")
	flags.StringVar(&s3Region, "s3-region", os.Getenv("FIELDLOCK_S3_REGION"), "S3 region")
	flags.StringVar(&s3Endpoint, "s3-endpoint", os.Getenv("FIELDLOCK_S3_ENDPOINT"), "Custom S3 endpoint (MinIO etc.)")
}

// openStore builds the document store selected by flags. The returned
// close func is safe to call once.
func openStore(ctx context.Context) (store.Store, func(), error) {
	switch storeBackend {
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstore.NewFromFile(dataDir+"/fieldlock.db", nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open document store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires --dsn or FIELDLOCK_DSN")
		}
		s, err := pgstore.NewFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", storeBackend)
	}
}

func openBlobs(ctx context.Context) (blob.Store, error) {
	switch blobBackend {
	case "memory":
		return blobmem.New(), nil
	case "s3":
		if s3Bucket == "" {
			return nil, fmt.Errorf("s3 backend requires --s3-bucket or FIELDLOCK_S3_BUCKET")
		}
		return blobs3.New(ctx, blobs3.Config{
			Bucket:       s3Bucket,
			Region:       s3Region,
			BaseEndpoint: s3Endpoint,
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", blobBackend)
	}
}
