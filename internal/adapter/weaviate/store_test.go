package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "ragline/internal/adapter/weaviate"
	"ragline/internal/vector"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *weaviate.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return client
}

func record(seq int) vector.Record {
	return vector.Record{
		ID:     vector.ChunkID("k1", seq),
		Vector: []float32{0.1, 0.2},
		Text:   "chunk text",
		Metadata: vector.Metadata{
			OwnerID:     "u1",
			DocumentKey: "k1",
			SourceLabel: "page 1",
			FileType:    "application/pdf",
			UploadDate:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Sequence:    seq,
		},
	}
}

type batchBody struct {
	Objects []struct {
		Class      string                 `json:"class"`
		ID         string                 `json:"id"`
		Properties map[string]interface{} `json:"properties"`
		Vector     []float32              `json:"vector"`
	} `json:"objects"`
}

func TestStore_Upsert(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body batchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 2)
		assert.Equal(t, "DocumentChunk", body.Objects[0].Class)
		assert.Equal(t, vector.ChunkID("k1", 0), body.Objects[0].ID)
		assert.Equal(t, "u1", body.Objects[0].Properties["ownerId"])
		assert.Equal(t, "k1", body.Objects[0].Properties["documentKey"])
		assert.Equal(t, "2024-01-02T03:04:05Z", body.Objects[0].Properties["uploadDate"])
		assert.Equal(t, []float32{0.1, 0.2}, body.Objects[1].Vector)

		resp := make([]map[string]interface{}, 0, len(body.Objects))
		for _, o := range body.Objects {
			resp = append(resp, map[string]interface{}{"class": o.Class, "id": o.ID, "result": map[string]interface{}{}})
		}
		json.NewEncoder(w).Encode(resp)
	})

	store := adapter.NewStore(client)
	err := store.Upsert(context.Background(), []vector.Record{record(0), record(1)})
	assert.NoError(t, err)
}

func TestStore_UpsertReportsObjectErrors(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{
			"class": "DocumentChunk",
			"id":    vector.ChunkID("k1", 0),
			"result": map[string]interface{}{
				"errors": map[string]interface{}{
					"error": []map[string]interface{}{{"message": "vector length mismatch"}},
				},
			},
		}})
	})

	store := adapter.NewStore(client)
	err := store.Upsert(context.Background(), []vector.Record{record(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector length mismatch")
}

func TestStore_UpsertEmptyIsNoop(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	assert.NoError(t, adapter.NewStore(client).Upsert(context.Background(), nil))
}

func TestStore_Search(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, "nearVector")
		assert.Contains(t, body.Query, "ownerId")
		assert.Contains(t, body.Query, "u1")
		assert.Contains(t, body.Query, "documentKey")
		assert.Contains(t, body.Query, "k1")

		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"DocumentChunk": []interface{}{
						map[string]interface{}{
							"content":     "first",
							"ownerId":     "u1",
							"documentKey": "k1",
							"sourceLabel": "page 1",
							"sequence":    4.0,
							"_additional": map[string]interface{}{"distance": 0.25},
						},
						map[string]interface{}{
							"content":     "second",
							"ownerId":     "u1",
							"documentKey": "k1",
							"sequence":    5.0,
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	store := adapter.NewStore(client)
	hits, err := store.Search(context.Background(), vector.Query{
		Vector: []float32{0.1, 0.2}, OwnerID: "u1", DocumentKey: "k1", TopK: 3,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "first", hits[0].Text)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 4, hits[0].Metadata.Sequence)
	assert.Equal(t, "page 1", hits[0].Metadata.SourceLabel)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-6)
	assert.Equal(t, 2, hits[1].Rank)
}

func TestStore_SearchGraphQLError(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"no such class"}]}`))
	})

	_, err := adapter.NewStore(client).Search(context.Background(), vector.Query{
		Vector: []float32{1}, OwnerID: "u1", DocumentKey: "k1", TopK: 3,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such class")
}

func TestStore_SearchRequiresFilters(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	_, err := adapter.NewStore(client).Search(context.Background(), vector.Query{Vector: []float32{1}, DocumentKey: "k1", TopK: 3})
	assert.ErrorIs(t, err, vector.ErrMissingFilter)
}
