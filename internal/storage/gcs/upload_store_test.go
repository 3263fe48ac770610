package gcs_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/storage/gcs"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type recorded struct {
	method string
	path   string
	body   string
}

func newClient(t *testing.T, status int, body string) (*storage.Client, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				var payload []byte
				if r.Body != nil {
					payload, _ = io.ReadAll(r.Body)
				}
				mu.Lock()
				calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: string(payload)})
				mu.Unlock()
				header := make(http.Header)
				header.Set("Content-Type", "application/json")
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(strings.NewReader(body)),
					Header:     header,
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestNewUploadStoreValidation(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t, http.StatusOK, `{}`)
	_, err := gcs.NewUploadStore(nil, gcs.Config{Bucket: "b"}, staticIDs{})
	require.Error(t, err)
	_, err = gcs.NewUploadStore(client, gcs.Config{}, staticIDs{})
	require.Error(t, err)
	_, err = gcs.NewUploadStore(client, gcs.Config{Bucket: "b"}, nil)
	require.Error(t, err)
}

func TestUploadStoreSave(t *testing.T) {
	t.Parallel()

	client, calls := newClient(t, http.StatusOK, `{"bucket":"imports","name":"incoming/abc.csv"}`)
	store, err := gcs.NewUploadStore(client, gcs.Config{Bucket: "imports", Prefix: "/incoming/"}, staticIDs{id: "abc"})
	require.NoError(t, err)

	handle, err := store.Save(context.Background(), "products.csv", strings.NewReader("sku,name\n"))
	require.NoError(t, err)
	require.Equal(t, "incoming/abc.csv", handle)

	got := calls()
	require.NotEmpty(t, got)
	require.Contains(t, got[0].path, "/b/imports/o")
	require.Contains(t, got[0].body, "sku,name")
}

func TestUploadStoreRemove(t *testing.T) {
	t.Parallel()

	client, calls := newClient(t, http.StatusNoContent, ``)
	store, err := gcs.NewUploadStore(client, gcs.Config{Bucket: "imports"}, staticIDs{id: "abc"})
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), "uploads/abc.csv"))
	got := calls()
	require.Len(t, got, 1)
	require.Equal(t, http.MethodDelete, got[0].method)
	require.Contains(t, got[0].path, "/b/imports/o/uploads")
}

func TestUploadStoreRemoveMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t, http.StatusNotFound, `{"error":{"code":404,"message":"No such object"}}`)
	store, err := gcs.NewUploadStore(client, gcs.Config{Bucket: "imports"}, staticIDs{id: "abc"})
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), "uploads/abc.csv"))
}

func TestUploadStoreOpenMissing(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t, http.StatusNotFound, ``)
	store, err := gcs.NewUploadStore(client, gcs.Config{Bucket: "imports"}, staticIDs{id: "abc"})
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "uploads/abc.csv")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUploadStoreRejectsForeignHandles(t *testing.T) {
	t.Parallel()

	client, calls := newClient(t, http.StatusOK, `{}`)
	store, err := gcs.NewUploadStore(client, gcs.Config{Bucket: "imports"}, staticIDs{id: "abc"})
	require.NoError(t, err)

	for _, handle := range []string{"other/abc.csv", "uploads/../secret.csv", "abc.csv", "uploads/a/b.csv"} {
		_, err := store.Open(context.Background(), handle)
		require.ErrorIs(t, err, catalog.ErrInvalidInput, "open %q", handle)
		require.ErrorIs(t, store.Remove(context.Background(), handle), catalog.ErrInvalidInput, "remove %q", handle)
	}
	require.Empty(t, calls())
}
