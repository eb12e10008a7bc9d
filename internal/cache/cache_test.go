package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/search"
	"github.com/ashita-ai/kensaku/internal/testutil"
)

type fakeCacheStore struct {
	hit       *search.CacheHit
	lookupErr error
	upsertErr error

	upserted      []search.CachePoint
	gotFreshAfter int64
}

func (f *fakeCacheStore) NearestCached(_ context.Context, _ []float32, freshAfterMs int64) (*search.CacheHit, error) {
	f.gotFreshAfter = freshAfterMs
	return f.hit, f.lookupErr
}

func (f *fakeCacheStore) UpsertCached(_ context.Context, point search.CachePoint) error {
	f.upserted = append(f.upserted, point)
	return f.upsertErr
}

func (f *fakeCacheStore) PurgeExpired(context.Context, int64) error { return nil }

type fakeACL struct {
	types map[string]model.AccessType
	err   error
}

func (f *fakeACL) DocumentAccessTypes(_ context.Context, _ []string) (map[string]model.AccessType, error) {
	return f.types, f.err
}

func testConfig() Config {
	return Config{SimilarityThreshold: 0.95, TTL: 24 * time.Hour, ACLTimeout: time.Second}
}

func contextsFixture(docIDs ...string) []model.Context {
	out := make([]model.Context, len(docIDs))
	for i, id := range docIDs {
		out[i] = model.Context{ParentChunkID: "p" + id, DocumentID: id, Content: "body", BestScore: 0.9}
	}
	return out
}

func cachedHit(t *testing.T, score float32, contexts []model.Context) *search.CacheHit {
	t.Helper()
	raw, err := json.Marshal(contexts)
	require.NoError(t, err)
	return &search.CacheHit{Score: score, QueryText: "cached query", ContextsJSON: raw}
}

func TestLookupHit(t *testing.T) {
	want := contextsFixture("d1")
	store := &fakeCacheStore{hit: cachedHit(t, 0.97, want)}
	c := New(store, &fakeACL{}, testConfig(), testutil.TestLogger())

	entry, warnings := c.Lookup(context.Background(), []float32{1, 0})
	assert.Empty(t, warnings)
	require.NotNil(t, entry)
	assert.Equal(t, "cached query", entry.QueryText)
	assert.Equal(t, want, entry.Contexts)
}

func TestLookupBelowThresholdMisses(t *testing.T) {
	store := &fakeCacheStore{hit: cachedHit(t, 0.93, contextsFixture("d1"))}
	c := New(store, &fakeACL{}, testConfig(), testutil.TestLogger())

	entry, warnings := c.Lookup(context.Background(), []float32{1, 0})
	assert.Nil(t, entry)
	assert.Empty(t, warnings)
}

func TestLookupFailureIsDegraded(t *testing.T) {
	store := &fakeCacheStore{lookupErr: errors.New("qdrant down")}
	c := New(store, &fakeACL{}, testConfig(), testutil.TestLogger())

	entry, warnings := c.Lookup(context.Background(), []float32{1, 0})
	assert.Nil(t, entry)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "cache lookup failed")
}

func TestLookupAppliesTTLWindow(t *testing.T) {
	store := &fakeCacheStore{}
	c := New(store, &fakeACL{}, testConfig(), testutil.TestLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Lookup(context.Background(), []float32{1, 0})
	assert.Equal(t, fixed.Add(-24*time.Hour).UnixMilli(), store.gotFreshAfter)
}

func TestStoreAllPublicWrites(t *testing.T) {
	store := &fakeCacheStore{}
	acl := &fakeACL{types: map[string]model.AccessType{"d1": model.AccessPublic, "d2": model.AccessPublic}}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	suppressed, warnings := c.Store(context.Background(), []float32{1, 0}, "q", contextsFixture("d1", "d2"))
	assert.False(t, suppressed)
	assert.Empty(t, warnings)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "q", store.upserted[0].QueryText)
	assert.NotZero(t, store.upserted[0].CreatedAtMs)
}

func TestStoreContentAddressedID(t *testing.T) {
	store := &fakeCacheStore{}
	acl := &fakeACL{types: map[string]model.AccessType{"d1": model.AccessPublic}}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	c.Store(context.Background(), []float32{1, 0}, "same query", contextsFixture("d1"))
	c.Store(context.Background(), []float32{1, 0}, "same query", contextsFixture("d1"))
	require.Len(t, store.upserted, 2)
	assert.Equal(t, store.upserted[0].ID, store.upserted[1].ID)
}

func TestStoreRestrictedDocumentSuppresses(t *testing.T) {
	store := &fakeCacheStore{}
	acl := &fakeACL{types: map[string]model.AccessType{"d1": model.AccessPublic, "d2": model.AccessRestricted}}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	suppressed, _ := c.Store(context.Background(), []float32{1, 0}, "q", contextsFixture("d1", "d2"))
	assert.True(t, suppressed)
	assert.Empty(t, store.upserted)
}

func TestStoreUnknownDocumentSuppresses(t *testing.T) {
	store := &fakeCacheStore{}
	acl := &fakeACL{types: map[string]model.AccessType{}}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	suppressed, _ := c.Store(context.Background(), []float32{1, 0}, "q", contextsFixture("d1"))
	assert.True(t, suppressed)
	assert.Empty(t, store.upserted)
}

func TestStoreACLFailureSuppresses(t *testing.T) {
	store := &fakeCacheStore{}
	acl := &fakeACL{err: errors.New("pg down")}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	suppressed, warnings := c.Store(context.Background(), []float32{1, 0}, "q", contextsFixture("d1"))
	assert.True(t, suppressed)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "access check failed")
	assert.Empty(t, store.upserted)
}

func TestStoreWriteFailureIsWarningNotSuppression(t *testing.T) {
	store := &fakeCacheStore{upsertErr: errors.New("qdrant down")}
	acl := &fakeACL{types: map[string]model.AccessType{"d1": model.AccessPublic}}
	c := New(store, acl, testConfig(), testutil.TestLogger())

	suppressed, warnings := c.Store(context.Background(), []float32{1, 0}, "q", contextsFixture("d1"))
	assert.False(t, suppressed)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "cache write failed")
}

func TestStoreEmptyContextsSkips(t *testing.T) {
	store := &fakeCacheStore{}
	c := New(store, &fakeACL{}, testConfig(), testutil.TestLogger())

	suppressed, warnings := c.Store(context.Background(), []float32{1, 0}, "q", nil)
	assert.False(t, suppressed)
	assert.Empty(t, warnings)
	assert.Empty(t, store.upserted)
}
