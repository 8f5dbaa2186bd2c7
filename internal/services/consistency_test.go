package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// listHookStore runs hook once, after the first armed listing has been taken, so the
// caller works from a snapshot that predates whatever hook does.
type listHookStore struct {
	*blobstore.MemoryStore
	armed atomic.Bool
	hook  func()
}

func (s *listHookStore) List(ctx context.Context, prefix string, limit int, cursor string) (blobstore.ListPage, error) {
	page, err := s.MemoryStore.List(ctx, prefix, limit, cursor)
	if s.armed.CompareAndSwap(true, false) {
		s.hook()
	}
	return page, err
}

func bulkItem(pageNumber int, id, url string) models.BulkAssetInput {
	return models.BulkAssetInput{PageNumber: pageNumber, AssetInput: models.AssetInput{
		AssetID: id, URL: url, BBox: &models.BBox{W: 2, H: 2},
	}}
}

func TestEndToEndDeleteThenBulkRecord(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Dependencies{})

	_, err := e.svc.RecordPage(ctx, &models.RecordPageRequest{
		ManifestTarget: e.target, PageNumber: 1, URL: "https://cdn.example.com/page-1.png", Width: 10, Height: 10,
	})
	require.NoError(t, err)

	first := e.put(t, naming.AssetPath(testProject, 1, "p1-img01", "a"), []byte("crop"))
	rec, err := e.svc.RecordAsset(ctx, &models.RecordAssetRequest{
		ManifestTarget: e.target, PageNumber: 1, AssetInput: bulkItem(1, "p1-img01", first).AssetInput,
	})
	require.NoError(t, err)
	require.False(t, rec.Dropped)

	_, err = e.svc.DeleteAsset(ctx, &models.DeleteAssetRequest{ManifestTarget: e.target, PageNumber: 1, AssetID: "p1-img01"})
	require.NoError(t, err)

	bulk, err := e.svc.RecordAssetsBulk(ctx, &models.RecordAssetsBulkRequest{
		ManifestTarget: e.target,
		Assets:         []models.BulkAssetInput{bulkItem(1, "p1-img01", "https://cdn.example.com/p1-img01.png")},
	})
	require.NoError(t, err)
	assert.Zero(t, bulk.Recorded)
	assert.Equal(t, 1, bulk.Dropped)

	raw, err := e.blobs.Get(ctx, e.svc.manifests.AddressFor(testProject))
	require.NoError(t, err)
	var wire struct {
		Pages []struct {
			Assets          json.RawMessage `json:"assets"`
			DeletedAssetIDs []string        `json:"deletedAssetIds"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Len(t, wire.Pages, 1)
	assert.JSONEq(t, `[]`, string(wire.Pages[0].Assets))
	assert.Equal(t, []string{"p1-img01"}, wire.Pages[0].DeletedAssetIDs)
}

func TestRebuildKeepsTombstonesOfPagesWithoutObjects(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Dependencies{})
	external := "https://cdn.example.com/page-1.png"
	recordPage := func() {
		_, err := e.svc.RecordPage(ctx, &models.RecordPageRequest{
			ManifestTarget: e.target, PageNumber: 1, URL: external, Width: 10, Height: 10,
		})
		require.NoError(t, err)
	}

	recordPage()
	crop := e.put(t, naming.AssetPath(testProject, 1, "p1-img01", "a"), []byte("crop"))
	_, err := e.svc.RecordAsset(ctx, &models.RecordAssetRequest{
		ManifestTarget: e.target, PageNumber: 1, AssetInput: bulkItem(1, "p1-img01", crop).AssetInput,
	})
	require.NoError(t, err)
	_, err = e.svc.DeleteAsset(ctx, &models.DeleteAssetRequest{ManifestTarget: e.target, PageNumber: 1, AssetID: "p1-img01"})
	require.NoError(t, err)

	rebuilt, err := e.svc.RebuildIndex(ctx, &models.ReconcileRequest{ManifestTarget: e.target})
	require.NoError(t, err)
	assert.Equal(t, []string{naming.ManifestPath(testProject)}, e.blobs.Paths(), "no page-1 object is left in storage")
	assert.Zero(t, rebuilt.PagesAdded+rebuilt.AssetsAdded+rebuilt.AssetsRemoved)

	page := e.page(t, 1)
	assert.Equal(t, external, page.URL)
	assert.Equal(t, []string{"p1-img01"}, page.DeletedAssetIDs)

	recordPage()
	bulk, err := e.svc.RecordAssetsBulk(ctx, &models.RecordAssetsBulkRequest{
		ManifestTarget: e.target,
		Assets:         []models.BulkAssetInput{bulkItem(1, "p1-img01", "https://cdn.example.com/a2.png")},
	})
	require.NoError(t, err)
	assert.Zero(t, bulk.Recorded)
	assert.Equal(t, 1, bulk.Dropped)

	page = e.page(t, 1)
	assert.Nil(t, ledger.FindAsset(page, "p1-img01"))
	assert.Equal(t, []string{"p1-img01"}, page.DeletedAssetIDs)
}

func TestReconcileKeepsAssetsDeletedDuringListing(t *testing.T) {
	modes := map[string]func(*Service) func(context.Context, *models.ReconcileRequest) (*models.ReconcileResponse, error){
		"restore": func(s *Service) func(context.Context, *models.ReconcileRequest) (*models.ReconcileResponse, error) {
			return s.RestoreFromStorage
		},
		"rebuild": func(s *Service) func(context.Context, *models.ReconcileRequest) (*models.ReconcileResponse, error) {
			return s.RebuildIndex
		},
	}
	for name, pick := range modes {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var store *listHookStore
			e := newTestEnvWith(t, Dependencies{}, envOptions{
				store: func(mem *blobstore.MemoryStore) blobstore.Store {
					store = &listHookStore{MemoryStore: mem}
					return store
				},
			})
			e.addPage(t, 1, 10, 10)
			one := e.put(t, naming.AssetPath(testProject, 1, "p1-img01", ""), []byte("one"))
			two := e.put(t, naming.AssetPath(testProject, 1, "p1-img02", ""), []byte("two"))
			e.mutate(t, func(m *models.Manifest) {
				ledger.MergeIncomingAssets(ledger.FindPage(m, 1), []models.PageAsset{
					{AssetID: "p1-img01", URL: one},
					{AssetID: "p1-img02", URL: two},
				})
			})

			store.hook = func() {
				_, err := e.svc.DeleteAsset(ctx, &models.DeleteAssetRequest{ManifestTarget: e.target, PageNumber: 1, AssetID: "p1-img01"})
				assert.NoError(t, err)
			}
			store.armed.Store(true)

			res, err := pick(e.svc)(ctx, &models.ReconcileRequest{ManifestTarget: e.target})
			require.NoError(t, err)
			assert.False(t, store.armed.Load(), "the delete ran while reconciling")
			assert.Equal(t, 1, res.Skipped, "the listing still held the deleted object")

			page := e.page(t, 1)
			assert.Nil(t, ledger.FindAsset(page, "p1-img01"))
			assert.Equal(t, []string{"p1-img01"}, page.DeletedAssetIDs)
			assert.NotNil(t, ledger.FindAsset(page, "p1-img02"))
		})
	}
}

func TestRecordKeepsAssetsDeletedAfterLoad(t *testing.T) {
	ctx := context.Background()
	manifestPath := "/" + naming.ManifestPath(testProject)

	var (
		e        *testEnv
		armed    atomic.Bool
		deleting string
	)
	// The first armed manifest read is answered with the copy taken before the delete.
	e = newTestEnvWith(t, Dependencies{}, envOptions{
		wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != manifestPath || !armed.CompareAndSwap(true, false) {
					next.ServeHTTP(w, r)
					return
				}
				stale := httptest.NewRecorder()
				next.ServeHTTP(stale, r)
				_, err := e.svc.DeleteAsset(context.Background(), &models.DeleteAssetRequest{
					ManifestTarget: e.target, PageNumber: 1, AssetID: deleting,
				})
				assert.NoError(t, err)
				for k, v := range stale.Header() {
					w.Header()[k] = v
				}
				w.WriteHeader(stale.Code)
				_, _ = w.Write(stale.Body.Bytes())
			})
		},
	})
	e.addPage(t, 1, 10, 10)
	e.mutate(t, func(m *models.Manifest) {
		ledger.MergeIncomingAssets(ledger.FindPage(m, 1), []models.PageAsset{
			{AssetID: "p1-img01", URL: "https://cdn.example.com/p1-img01.png"},
			{AssetID: "p1-img02", URL: "https://cdn.example.com/p1-img02.png"},
		})
	})

	deleting = "p1-img01"
	armed.Store(true)
	bulk, err := e.svc.RecordAssetsBulk(ctx, &models.RecordAssetsBulkRequest{
		ManifestTarget: e.target,
		Assets: []models.BulkAssetInput{
			bulkItem(1, "p1-img01", "https://cdn.example.com/p1-img01-v2.png"),
			bulkItem(1, "p1-img03", "https://cdn.example.com/p1-img03.png"),
		},
	})
	require.NoError(t, err)
	assert.False(t, armed.Load())
	assert.Equal(t, 1, bulk.Recorded)
	assert.Equal(t, 1, bulk.Dropped)

	page := e.page(t, 1)
	assert.Nil(t, ledger.FindAsset(page, "p1-img01"))
	assert.NotNil(t, ledger.FindAsset(page, "p1-img03"))
	assert.Equal(t, []string{"p1-img01"}, page.DeletedAssetIDs)

	deleting = "p1-img02"
	armed.Store(true)
	rec, err := e.svc.RecordAsset(ctx, &models.RecordAssetRequest{
		ManifestTarget: e.target, PageNumber: 1,
		AssetInput: bulkItem(1, "p1-img02", "https://cdn.example.com/p1-img02-v2.png").AssetInput,
	})
	require.NoError(t, err)
	assert.False(t, armed.Load())
	assert.True(t, rec.Dropped)

	page = e.page(t, 1)
	assert.Nil(t, ledger.FindAsset(page, "p1-img02"))
	assert.Equal(t, []string{"p1-img01", "p1-img02"}, page.DeletedAssetIDs)
}

func TestCreateProjectRejectsExistingID(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, Dependencies{})
	e.addPage(t, 1, 10, 10)
	e.mutate(t, func(m *models.Manifest) {
		ledger.Tombstone(ledger.FindPage(m, 1), "p1-img01")
	})

	_, err := e.svc.CreateProject(ctx, &models.CreateProjectRequest{ProjectID: testProject})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	m := e.manifest(t)
	require.Len(t, m.Pages, 1)
	assert.Equal(t, []string{"p1-img01"}, m.Pages[0].DeletedAssetIDs)
}

func TestIngestStorageEventSkipsAPIUploads(t *testing.T) {
	ctx := context.Background()
	trigger := &fakeTrigger{}
	e := newTestEnv(t, Dependencies{Trigger: trigger})

	name := naming.SourcePath(testProject, "plan.pdf")
	url, err := e.blobs.Put(ctx, name, []byte("%PDF-1.7"), sourcePutOptions())
	require.NoError(t, err)

	resp, err := e.svc.httpClient.Head(url)
	require.NoError(t, err)
	resp.Body.Close()
	marker := resp.Header.Get(blobstore.MetadataHeaderPrefix + uploadedByKey)
	require.Equal(t, uploadedByAPI, marker)

	before := e.manifest(t).Generation
	err = e.svc.IngestStorageEvent(ctx, GCSEvent{Bucket: "b", Name: name, Metadata: map[string]string{uploadedByKey: marker}})
	require.NoError(t, err)
	assert.Zero(t, trigger.calls.Load())
	assert.Nil(t, e.manifest(t).SourcePDF)
	assert.Equal(t, before, e.manifest(t).Generation)
}
