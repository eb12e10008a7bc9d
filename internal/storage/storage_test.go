package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/storage"
	"github.com/ashita-ai/kensaku/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
// Nil when KENSAKU_INTEGRATION is unset; tests then skip.
var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("KENSAKU_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func requireDB(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("set KENSAKU_INTEGRATION=1 to run Postgres integration tests")
	}
	return testDB
}

func seedFixtures(t *testing.T, db *storage.DB) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Pool().Exec(ctx, `
		TRUNCATE document_grants, parent_chunks, documents CASCADE`)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO documents (document_id, title, access_type) VALUES
			('doc-public', 'Public handbook', 'public'),
			('doc-restricted', 'Internal memo', 'restricted'),
			('doc-granted', 'Granted report', 'restricted')`)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO parent_chunks (parent_chunk_id, document_id, content, tokens, metadata) VALUES
			('p1', 'doc-public', 'parent one body', 120, '{"section":"intro"}'),
			('p2', 'doc-granted', 'parent two body', 340, '{}')`)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO document_grants (document_id, user_id, expires_at) VALUES
			('doc-granted', 'u1', NULL),
			('doc-restricted', 'u2', now() - interval '1 hour')`)
	require.NoError(t, err)
}

func TestFetchParents(t *testing.T) {
	db := requireDB(t)
	seedFixtures(t, db)
	ctx := context.Background()

	parents, err := db.FetchParents(ctx, []string{"p1", "p2", "p-missing"})
	require.NoError(t, err)
	require.Len(t, parents, 2, "missing ids are silently omitted")

	byID := make(map[string]model.ParentChunk)
	for _, p := range parents {
		byID[p.ParentChunkID] = p
	}
	assert.Equal(t, "parent one body", byID["p1"].Content)
	assert.Equal(t, 120, byID["p1"].Tokens)
	assert.Equal(t, "intro", byID["p1"].Metadata["section"])
	assert.Equal(t, "doc-granted", byID["p2"].DocumentID)
}

func TestFetchParentsEmptyInput(t *testing.T) {
	db := requireDB(t)

	parents, err := db.FetchParents(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestVisibleDocumentIDs(t *testing.T) {
	db := requireDB(t)
	seedFixtures(t, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("user sees public plus granted", func(t *testing.T) {
		ids, err := db.VisibleDocumentIDs(ctx, "u1", model.RoleUser)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"doc-public", "doc-granted"}, ids)
	})

	t.Run("expired grants are excluded", func(t *testing.T) {
		ids, err := db.VisibleDocumentIDs(ctx, "u2", model.RoleUser)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"doc-public"}, ids)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		ids, err := db.VisibleDocumentIDs(ctx, "admin-1", model.RoleAdmin)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"doc-public", "doc-restricted", "doc-granted"}, ids)
	})
}

func TestDocumentAccessTypes(t *testing.T) {
	db := requireDB(t)
	seedFixtures(t, db)

	types, err := db.DocumentAccessTypes(context.Background(),
		[]string{"doc-public", "doc-restricted", "doc-unknown"})
	require.NoError(t, err)

	assert.Equal(t, model.AccessPublic, types["doc-public"])
	assert.Equal(t, model.AccessRestricted, types["doc-restricted"])
	_, known := types["doc-unknown"]
	assert.False(t, known, "unknown ids are absent, not defaulted")
}
