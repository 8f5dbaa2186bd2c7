package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/bootstrap"
	"github.com/Lllllllleong/assetmanifest/internal/gcp"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

var (
	envFile     string
	verbose     bool
	projectID   string
	manifestURL string
)

var rootCmd = &cobra.Command{
	Use:   "assetctl",
	Short: "Inspect and repair project manifests",
	Long: `assetctl runs the manifest consistency operations (rebuild, restore, prune,
tag, delete) against the configured bucket, or serves every endpoint locally with
BLOBSTORE=memory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// projectFlags adds the flags that address one manifest.
func projectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id (required)")
	cmd.Flags().StringVarP(&manifestURL, "manifest", "m", "", "manifest URL (default: the project's canonical manifest)")
	_ = cmd.MarkFlagRequired("project")
}

// newService builds the service for one-shot commands. BLOBSTORE=memory starts from an
// empty in-process store, which is only useful with serve.
func newService(ctx context.Context) (*services.Service, *blobstore.MemoryStore, error) {
	if strings.EqualFold(gcp.GetEnv("BLOBSTORE", "gcs"), "memory") {
		store := blobstore.NewMemoryStore(gcp.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080/blobs"))
		svc, err := services.New(services.Dependencies{Blobs: store}, services.Config{
			ConditionalSaves: gcp.GetEnvBool("MANIFEST_CONDITIONAL_SAVES", false),
			PruneConcurrency: gcp.GetEnvInt("PRUNE_CONCURRENCY", 8),
		})
		return svc, store, err
	}
	svc, err := bootstrap.NewFromEnv(ctx)
	return svc, nil, err
}

func target(svc *services.Service) models.ManifestTarget {
	address := manifestURL
	if address == "" {
		address = svc.Manifests().AddressFor(projectID)
	}
	return models.ManifestTarget{ProjectID: projectID, ManifestURL: address}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
