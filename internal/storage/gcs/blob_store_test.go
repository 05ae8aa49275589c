package gcs

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/JakeFAU/price-archive/internal/tracker"
)

const bucketName = "test-bucket"

// newTestBlobStore points a real GCS client at a fake JSON/XML API server.
func newTestBlobStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: bucketName})
	require.NoError(t, err)
	return store
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	objectName := "2024-01-15/page_1.html"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucketName))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<html>page</html>")
		assert.Contains(t, string(body), "text/html")

		fmt.Fprintln(w, `{"name":"`+objectName+`","bucket":"`+bucketName+`"}`)
	})

	store := newTestBlobStore(t, handler)
	uri, err := store.PutObject(context.Background(), objectName, "text/html", []byte("<html>page</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/2024-01-15/page_1.html", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error":{"code":403,"message":"denied"}}`)
	})

	store := newTestBlobStore(t, handler)
	_, err := store.PutObject(context.Background(), "k", "text/html", []byte("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestGetObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + bucketName + "/2024-01-15/page_1.html":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html>archived</html>")
		default:
			http.NotFound(w, r)
		}
	})

	store := newTestBlobStore(t, handler)
	data, err := store.GetObject(context.Background(), "2024-01-15/page_1.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>archived</html>", string(data))

	_, err = store.GetObject(context.Background(), "2024-01-15/page_2.html")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracker.ErrNotFound))
}

func TestListPrefixes(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/b/"+bucketName+"/o") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kind":     "storage#objects",
			"prefixes": []string{"2023-12-31/", "2024-01-02/", "2024-01-15/"},
			"items": []map[string]any{
				{"name": "scraper.log", "bucket": bucketName},
			},
		})
	})

	store := newTestBlobStore(t, handler)
	prefixes, err := store.ListPrefixes(context.Background(), "/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2023-12-31/", "2024-01-02/", "2024-01-15/"}, prefixes)
}
