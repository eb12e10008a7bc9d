package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrants struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeGrants) VisibleDocumentIDs(_ context.Context, _ string, _ model.Role) ([]string, error) {
	f.calls++
	return f.ids, f.err
}

func TestBuildSuperAdminAllowAll(t *testing.T) {
	grants := &fakeGrants{}
	b := New(grants, 0, 0, testutil.TestLogger())
	defer b.Close()

	filter, err := b.Build(context.Background(), model.UserContext{UserID: "u1", Role: model.RoleSuperAdmin})
	require.NoError(t, err)
	assert.True(t, filter.AllowAll())
	assert.Zero(t, grants.calls, "super admin must not hit the grant source")
}

func TestBuildUserWhitelist(t *testing.T) {
	grants := &fakeGrants{ids: []string{"doc-1", "doc-2"}}
	b := New(grants, 0, 0, testutil.TestLogger())
	defer b.Close()

	filter, err := b.Build(context.Background(), model.UserContext{UserID: "u1", Role: model.RoleUser})
	require.NoError(t, err)
	assert.False(t, filter.AllowAll())
	assert.True(t, filter.Allows("doc-1"))
	assert.True(t, filter.Allows("doc-2"))
	assert.False(t, filter.Allows("doc-3"))
}

func TestBuildEmptySetShortCircuits(t *testing.T) {
	grants := &fakeGrants{ids: nil}
	b := New(grants, 0, 0, testutil.TestLogger())
	defer b.Close()

	filter, err := b.Build(context.Background(), model.UserContext{UserID: "u1", Role: model.RoleUser})
	require.NoError(t, err)
	assert.False(t, filter.AllowAll())
	assert.True(t, filter.Empty())
}

func TestBuildFailsClosed(t *testing.T) {
	grants := &fakeGrants{err: errors.New("db down")}
	b := New(grants, 0, 0, testutil.TestLogger())
	defer b.Close()

	_, err := b.Build(context.Background(), model.UserContext{UserID: "u1", Role: model.RoleUser})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFilterBuild)
}

func TestBuildUsesGrantCache(t *testing.T) {
	grants := &fakeGrants{ids: []string{"doc-1"}}
	b := New(grants, time.Minute, 0, testutil.TestLogger())
	defer b.Close()

	user := model.UserContext{UserID: "u1", Role: model.RoleUser}
	_, err := b.Build(context.Background(), user)
	require.NoError(t, err)
	_, err = b.Build(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, grants.calls)
}

func TestGrantCacheExpiry(t *testing.T) {
	c := newGrantCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("u1:user", map[string]bool{"doc-1": true})
	got, ok := c.Get("u1:user")
	require.True(t, ok)
	assert.True(t, got["doc-1"])

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("u1:user")
	assert.False(t, ok)
}
