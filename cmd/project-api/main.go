package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/assetmanifest/internal/bootstrap"
	"github.com/Lllllllleong/assetmanifest/internal/handlers"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

var (
	mux     *http.ServeMux
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleProjects", handleProjects)
}

// main is required by the Go Functions Framework.
func main() {}

func handleProjects(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var svc *services.Service
		svc, initErr = bootstrap.NewFromEnv(context.Background())
		if initErr == nil {
			mux = http.NewServeMux()
			handlers.ProjectRoutes(mux, svc)
		}
	})
	if initErr != nil {
		slog.Error("Critical: project service initialization failed", "error", initErr)
		handlers.WriteJSON(w, http.StatusInternalServerError, models.Result{Error: "failed to initialize service"})
		return
	}
	mux.ServeHTTP(w, r)
}
