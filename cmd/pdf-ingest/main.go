package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/assetmanifest/internal/bootstrap"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

var (
	svc     *services.Service
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by storage object-finalized events on the assets bucket.
	functions.CloudEvent("IngestSourcePDF", ingestSourcePDF)
}

// main is required by the Go Functions Framework.
func main() {}

func ingestSourcePDF(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		svc, initErr = bootstrap.NewFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return svc.IngestStorageEvent(ctx, gcsEvent)
}
