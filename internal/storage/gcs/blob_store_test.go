package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	var gotName string
	var gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/archive-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintf(w, `{"name": %q, "bucket": "archive-bucket"}`, gotName)
	})

	store := newTestStore(t, handler, Config{Bucket: "archive-bucket", Prefix: "/recovery/"})
	uri, err := store.PutObject(context.Background(), "worker-1/results.ndjson", "application/x-ndjson", strings.NewReader(`{"identifier":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://archive-bucket/recovery/worker-1/results.ndjson", uri)
	assert.Equal(t, "recovery/worker-1/results.ndjson", gotName)
	assert.Contains(t, gotBody, `{"identifier":"a"}`)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "archive-bucket"})
	_, err := store.PutObject(context.Background(), "checkpoint.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)
}
