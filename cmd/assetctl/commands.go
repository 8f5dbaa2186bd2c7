package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/assetmanifest/internal/handlers"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

var (
	deletePage    int
	deleteAssetID string
	tagOverwrite  bool
	tagPages      []int
	serveAddr     string
)

// runWithService wraps a one-shot command: build the service, run op, print the result.
func runWithService(op func(ctx context.Context, svc *services.Service) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		svc, _, err := newService(ctx)
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}
		defer svc.Close()

		res, err := op(ctx, svc)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current manifest",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		t := target(svc)
		return svc.Manifests().LoadFor(ctx, t.ProjectID, t.ManifestURL)
	}),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Make the manifest mirror the objects in storage",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.RebuildIndex(ctx, &models.ReconcileRequest{ManifestTarget: target(svc)})
	}),
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Add pages and assets found in storage without removing anything",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.RestoreFromStorage(ctx, &models.ReconcileRequest{ManifestTarget: target(svc)})
	}),
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove assets whose image no longer exists",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.PruneMissingAssets(ctx, &models.PruneMissingAssetsRequest{ManifestTarget: target(svc)})
	}),
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Tag untagged assets with the configured model",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.TagAssets(ctx, &models.TagAssetsRequest{
			ManifestTarget: target(svc),
			Overwrite:      tagOverwrite,
			PageNumbers:    tagPages,
		})
	}),
}

var deleteAssetCmd = &cobra.Command{
	Use:   "delete-asset",
	Short: "Delete an asset and tombstone its id",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.DeleteAsset(ctx, &models.DeleteAssetRequest{
			ManifestTarget: target(svc),
			PageNumber:     deletePage,
			AssetID:        deleteAssetID,
		})
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed projects",
	RunE: runWithService(func(ctx context.Context, svc *services.Service) (any, error) {
		return svc.ListProjects(ctx, 0)
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve every endpoint on one local HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, store, err := newService(ctx)
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}
		defer svc.Close()

		mux := handlers.NewMux(svc)
		if store != nil {
			mux.Handle("/blobs/", http.StripPrefix("/blobs", store))
		}
		srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		slog.Info("Serving.", "addr", serveAddr, "memoryStore", store != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{showCmd, rebuildCmd, restoreCmd, pruneCmd, tagCmd, deleteAssetCmd} {
		projectFlags(cmd)
	}
	tagCmd.Flags().BoolVar(&tagOverwrite, "overwrite", false, "re-tag assets that already have tags")
	tagCmd.Flags().IntSliceVar(&tagPages, "pages", nil, "only tag these page numbers")
	deleteAssetCmd.Flags().IntVar(&deletePage, "page", 0, "page number (required)")
	deleteAssetCmd.Flags().StringVar(&deleteAssetID, "asset", "", "asset id (required)")
	_ = deleteAssetCmd.MarkFlagRequired("page")
	_ = deleteAssetCmd.MarkFlagRequired("asset")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")

	rootCmd.AddCommand(showCmd, rebuildCmd, restoreCmd, pruneCmd, tagCmd, deleteAssetCmd, listCmd, serveCmd)
}
