package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/models"
)

func newTestStore(t *testing.T, config Config) (*Store, *blobstore.MemoryStore) {
	t.Helper()
	blobs := blobstore.NewMemoryStore("")
	srv := httptest.NewServer(blobs)
	t.Cleanup(srv.Close)
	blobs.SetBaseURL(srv.URL)
	return NewStore(blobs, srv.Client(), config), blobs
}

func TestCreateLoadSave(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Config{})

	m, address, err := store.Create(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmpty, m.Status)
	assert.Contains(t, address, "?v=")

	loaded, err := store.LoadFor(ctx, "proj-1", address)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", loaded.ProjectID)
	assert.NotZero(t, loaded.Generation)

	loaded.Pages = append(loaded.Pages, models.PageImage{PageNumber: 1, URL: "u", Width: 1, Height: 1})
	next, err := store.Save(ctx, loaded)
	require.NoError(t, err)
	assert.NotEqual(t, address, next)

	// The canonical address always serves the latest write.
	latest, err := store.Load(ctx, store.AddressFor("proj-1"))
	require.NoError(t, err)
	assert.Len(t, latest.Pages, 1)
}

func TestLoadBypassesCaches(t *testing.T) {
	var gotQuery, gotCacheControl, gotPragma string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("cb")
		gotCacheControl = r.Header.Get("Cache-Control")
		gotPragma = r.Header.Get("Pragma")
		_, _ = w.Write([]byte(`{"projectId":"p"}`))
	}))
	defer srv.Close()

	store := NewStore(blobstore.NewMemoryStore(srv.URL), srv.Client(), Config{})
	m, err := store.Load(context.Background(), srv.URL+"/projects/p/manifest.json?v=3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmpty, m.Status, "missing status defaults to empty")
	assert.NotEmpty(t, gotQuery)
	assert.Contains(t, gotCacheControl, "no-cache")
	assert.Equal(t, "no-cache", gotPragma)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Config{})

	t.Run("missing manifest is an upstream fetch error", func(t *testing.T) {
		_, err := store.Load(ctx, store.AddressFor("nope"))
		var fetchErr *apperrors.UpstreamFetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
		assert.Contains(t, fetchErr.Body, "No such object")
	})

	t.Run("project mismatch", func(t *testing.T) {
		_, address, err := store.Create(ctx, "real")
		require.NoError(t, err)
		_, err = store.LoadFor(ctx, "other", address)
		assert.True(t, errors.Is(err, apperrors.ErrMismatch))
	})

	t.Run("bad address", func(t *testing.T) {
		_, err := store.Load(ctx, "ftp://example.com/manifest.json")
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("invalid project id", func(t *testing.T) {
		_, _, err := store.Create(ctx, "../escape")
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})
}

func TestConditionalSaves(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Config{ConditionalSaves: true})

	_, address, err := store.Create(ctx, "proj")
	require.NoError(t, err)

	a, err := store.Load(ctx, address)
	require.NoError(t, err)
	b, err := store.Load(ctx, address)
	require.NoError(t, err)

	_, err = store.Save(ctx, a)
	require.NoError(t, err)
	_, err = store.Save(ctx, b)
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "second writer from the same base must lose")
}

func TestLastWriterWinsByDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Config{})

	_, address, err := store.Create(ctx, "proj")
	require.NoError(t, err)
	a, err := store.Load(ctx, address)
	require.NoError(t, err)
	b, err := store.Load(ctx, address)
	require.NoError(t, err)

	_, err = store.Save(ctx, a)
	require.NoError(t, err)
	_, err = store.Save(ctx, b)
	assert.NoError(t, err)
}

func TestCreateNeverOverwritesAnExistingManifest(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Config{})

	_, address, err := store.Create(ctx, "proj")
	require.NoError(t, err)
	m, err := store.Load(ctx, address)
	require.NoError(t, err)
	m.Pages = []models.PageImage{{PageNumber: 1, URL: "u", DeletedAssetIDs: []string{"p1-img01"}}}
	_, err = store.Save(ctx, m)
	require.NoError(t, err)

	_, _, err = store.Create(ctx, "proj")
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Contains(t, err.Error(), "already exists")

	kept, err := store.Load(ctx, store.AddressFor("proj"))
	require.NoError(t, err)
	require.Len(t, kept.Pages, 1)
	assert.Equal(t, []string{"p1-img01"}, kept.Pages[0].DeletedAssetIDs)
}

func TestSaveWritesEmptyAssetLists(t *testing.T) {
	ctx := context.Background()
	store, blobs := newTestStore(t, Config{})

	address, err := store.Save(ctx, &models.Manifest{
		ProjectID: "proj",
		Pages:     []models.PageImage{{PageNumber: 1, URL: "u", DeletedAssetIDs: []string{"p1-img01"}}},
	})
	require.NoError(t, err)

	raw, err := blobs.Get(ctx, address)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"assets": []`)

	var wire struct {
		Pages []map[string]json.RawMessage `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	require.Len(t, wire.Pages, 1)
	assert.JSONEq(t, `[]`, string(wire.Pages[0]["assets"]))

	loaded, err := store.Load(ctx, address)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Pages[0].Assets)
}
