package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreUpsertIsIdempotent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := Document{ID: "s1", PartitionKey: "scenario-a", DocType: "session", Payload: []byte(`{"status":"in_progress"}`)}

	require.NoError(t, s.Upsert(ctx, doc))
	doc.Payload = []byte(`{"status":"completed"}`)
	require.NoError(t, s.Upsert(ctx, doc))

	got, err := s.Get(ctx, "s1", "scenario-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, string(got.Payload))
}

func TestSQLiteStoreGetNotFound(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "missing", "scenario-a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStoreListFiltersByDocTypeAndStatus(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Document{ID: "a", PartitionKey: "p", DocType: "session", Payload: []byte(`{"status":"in_progress"}`)}))
	require.NoError(t, s.Upsert(ctx, Document{ID: "b", PartitionKey: "p", DocType: "session", Payload: []byte(`{"status":"completed"}`)}))
	require.NoError(t, s.Upsert(ctx, Document{ID: "c", PartitionKey: "p", DocType: "other", Payload: []byte(`{"status":"in_progress"}`)}))

	docs, err := s.List(ctx, Query{DocType: "session", Field: "status", Value: "in_progress"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestSQLiteStoreDelete(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Document{ID: "a", PartitionKey: "p", DocType: "session", Payload: []byte(`{}`)}))
	require.NoError(t, s.Delete(ctx, "a", "p"))
	_, err = s.Get(ctx, "a", "p")
	assert.True(t, errors.Is(err, ErrNotFound))
}
