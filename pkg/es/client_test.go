package es

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/model"
)

// fakeES 模拟 Elasticsearch 的 HTTP 接口。
// v8 客户端要求响应携带产品标识头。
func fakeES(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
}

func newTestClient(t *testing.T, url string, dims int) Client {
	client, err := NewClient(config.ElasticsearchConfig{
		Addresses: []string{url},
		IndexName: "pai_docs",
	}, dims)
	require.NoError(t, err)
	return client
}

func TestEnsureIndexCreatesWithVectorMapping(t *testing.T) {
	var createBody map[string]interface{}
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/pai_docs":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			fmt.Fprint(w, `{"acknowledged":true}`)
		default:
			t.Fatalf("意外的请求: %s %s", r.Method, r.URL.Path)
		}
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1024)
	require.NoError(t, client.EnsureIndex(context.Background()))

	props := createBody["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	vector := props["vector"].(map[string]interface{})
	assert.Equal(t, "dense_vector", vector["type"])
	assert.EqualValues(t, 1024, vector["dims"])
	assert.Equal(t, "cosine", vector["similarity"])
}

func TestEnsureIndexSkipsExisting(t *testing.T) {
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1024)
	require.NoError(t, client.EnsureIndex(context.Background()))
}

func TestUpsertUsesVectorIDAsDocumentID(t *testing.T) {
	var bulkLines []string
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_bulk", r.URL.Path)
		dec := json.NewDecoder(r.Body)
		for dec.More() {
			var line map[string]interface{}
			require.NoError(t, dec.Decode(&line))
			b, _ := json.Marshal(line)
			bulkLines = append(bulkLines, string(b))
		}
		fmt.Fprint(w, `{"errors":false,"items":[]}`)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	docs := []model.VectorDocument{
		{VectorID: "abc123_0", FileMD5: "abc123", ChunkIndex: 0, Vector: []float32{0.1, 0.2}},
		{VectorID: "abc123_1", FileMD5: "abc123", ChunkIndex: 1, Vector: []float32{0.3, 0.4}},
	}
	require.NoError(t, client.Upsert(context.Background(), docs))

	require.Len(t, bulkLines, 4)
	assert.Contains(t, bulkLines[0], `"abc123_0"`)
	assert.Contains(t, bulkLines[2], `"abc123_1"`)
}

func TestDeleteByFileMD5(t *testing.T) {
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pai_docs/_delete_by_query", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		term := body["query"].(map[string]interface{})["term"].(map[string]interface{})
		require.Equal(t, "abc123", term["file_md5"])
		fmt.Fprint(w, `{"deleted":7}`)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	deleted, err := client.DeleteByFileMD5(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
}

func TestSearchReturnsScoredResults(t *testing.T) {
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pai_docs/_search", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		knn := body["knn"].(map[string]interface{})
		require.Equal(t, "vector", knn["field"])
		require.EqualValues(t, 5, knn["k"])
		require.EqualValues(t, 0.6, body["min_score"])

		fmt.Fprint(w, `{"hits":{"hits":[
			{"_score":0.91,"_source":{"file_md5":"m1","file_path":"docs/a.md","title":"A","chunk_index":0,"total_chunks":3,"text_content":"first"}},
			{"_score":0.72,"_source":{"file_md5":"m2","file_path":"docs/b.md","title":"B","chunk_index":1,"total_chunks":2,"text_content":"second"}}
		]}}`)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	results, err := client.Search(context.Background(), []float32{0.5, 0.5}, 5, 0.6)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "docs/a.md", results[0].FilePath)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	assert.Equal(t, "second", results[1].TextContent)
}

func TestSearchNoHitsReturnsEmptySlice(t *testing.T) {
	srv := fakeES(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hits":{"hits":[]}}`)
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	results, err := client.Search(context.Background(), []float32{0.5, 0.5}, 5, 0.6)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchDimensionMismatch(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 4)
	_, err := client.Search(context.Background(), []float32{0.5, 0.5}, 5, 0.6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度不一致")
}

func TestPingUnavailable(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 2)
	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
