package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/obstore"
)

func seedStore(t *testing.T) *obstore.Store {
	t.Helper()
	store, err := obstore.Open(filepath.Join(t.TempDir(), "obs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Upsert([]obstore.Row{
		{"id": int64(73004003), "date": "2025-05-01", "tmax": 9.1},
		{"id": int64(38002401), "date": "2025-05-01", "tmax": 14.5},
		{"id": int64(38002401), "date": "2025-04-30", "tmax": 13.0,
			"expires_at": float64(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix())},
	})
	require.NoError(t, err)
	return store
}

func TestSnapshotSortedAndFiltered(t *testing.T) {
	exp := NewExporter(seedStore(t))
	exp.now = func() time.Time { return time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC) }

	data, n, err := exp.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.EqualValues(t, 38002401, rows[0]["id"])
	assert.EqualValues(t, 73004003, rows[1]["id"])
}

func TestSnapshotEmptyStoreIsEmptyArray(t *testing.T) {
	store, err := obstore.Open(filepath.Join(t.TempDir(), "obs.db"))
	require.NoError(t, err)
	defer store.Close()

	data, n, err := NewExporter(store).Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "[]", string(data))
}

func TestWriteFileCreatesParents(t *testing.T) {
	exp := NewExporter(seedStore(t))
	exp.now = func() time.Time { return time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC) }

	out := filepath.Join(t.TempDir(), "deep", "nested", "observations.json")
	n, err := exp.WriteFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

type recordedPut struct {
	path string
	body putContents
}

func newContentsServer(t *testing.T, existingSHA string, puts *[]recordedPut) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if existingSHA == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(contentsFile{SHA: existingSHA})
		case http.MethodPut:
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var body putContents
			require.NoError(t, json.Unmarshal(raw, &body))
			*puts = append(*puts, recordedPut{path: r.URL.Path, body: body})
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"content":{}}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func TestPublishNewFile(t *testing.T) {
	var puts []recordedPut
	srv := newContentsServer(t, "", &puts)
	defer srv.Close()

	pub := NewPublisher(srv.URL, "tok", "alpineclim", "archive", "main", zap.NewNop())
	pub.Path = "observations.json"
	pub.now = func() time.Time { return time.Date(2025, 6, 20, 8, 0, 0, 0, time.UTC) }

	snapshot := []byte(`[{"id":38002401,"date":"2025-05-01"}]`)
	path, err := pub.Publish(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, "observations.json", path)

	require.Len(t, puts, 1)
	put := puts[0]
	assert.Equal(t, "/repos/alpineclim/archive/contents/observations.json", put.path)
	assert.Equal(t, "chore(observations): export daily 2025-06-20 [skip ci]", put.body.Message)
	assert.Equal(t, "main", put.body.Branch)
	assert.Empty(t, put.body.SHA)

	decoded, err := base64.StdEncoding.DecodeString(put.body.Content)
	require.NoError(t, err)
	assert.Equal(t, snapshot, decoded)
}

func TestPublishUpdatesExistingSHA(t *testing.T) {
	var puts []recordedPut
	srv := newContentsServer(t, "abc123", &puts)
	defer srv.Close()

	pub := NewPublisher(srv.URL, "tok", "alpineclim", "archive", "main", zap.NewNop())
	pub.Path = "observations.json"
	pub.now = time.Now

	_, err := pub.Publish(context.Background(), []byte(`[]`))
	require.NoError(t, err)

	require.Len(t, puts, 1)
	assert.Equal(t, "abc123", puts[0].body.SHA)
}

func TestPublishFallsBackToGzip(t *testing.T) {
	var puts []recordedPut
	srv := newContentsServer(t, "", &puts)
	defer srv.Close()

	pub := NewPublisher(srv.URL, "tok", "alpineclim", "archive", "main", zap.NewNop())
	pub.Path = "observations.json"
	pub.GzPath = "observations.json.gz"
	pub.MaxBytes = 16
	pub.now = time.Now

	snapshot := bytes.Repeat([]byte("x"), 64)
	path, err := pub.Publish(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, "observations.json.gz", path)

	require.Len(t, puts, 1)
	assert.Contains(t, puts[0].path, "observations.json.gz")

	decoded, err := base64.StdEncoding.DecodeString(puts[0].body.Content)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(decoded))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, snapshot, plain)
}

func TestPublishSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"message":"Invalid request"}`)
	}))
	defer srv.Close()

	pub := NewPublisher(srv.URL, "tok", "alpineclim", "archive", "main", zap.NewNop())
	pub.Path = "observations.json"
	pub.now = time.Now

	_, err := pub.Publish(context.Background(), []byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 422")
}
