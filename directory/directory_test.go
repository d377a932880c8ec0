package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFindByEmailIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	d := NewStatic(Principal{ID: "p1", Email: "Ana@Example.com", Role: "analyst", Active: true})

	p, err := d.FindByEmail(context.Background(), "  ana@example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.True(t, p.Active)

	_, err = d.FindByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticSetActiveAndPut(t *testing.T) {
	t.Parallel()

	d := NewStatic(Principal{ID: "p1", Email: "a@example.com", Role: "analyst", Active: true})
	require.True(t, d.SetActive("p1", false))
	assert.False(t, d.SetActive("missing", false))

	p, err := d.FindByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, p.Active)

	d.Put(Principal{ID: "p1", Email: "new@example.com", Role: "admin", Active: true})
	_, err = d.FindByEmail(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = d.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Role)
}

func TestStaticRemove(t *testing.T) {
	t.Parallel()

	d := NewStatic(Principal{ID: "p1", Email: "a@example.com", Active: true})
	require.True(t, d.Remove("p1"))
	assert.False(t, d.Remove("p1"))

	_, err := d.FindByID(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.FindByEmail(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTableRejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	p := &Postgres{}
	assert.Error(t, WithTable("public", "principals; drop table x")(p))
	require.NoError(t, WithTable("bench", "principals")(p))
	assert.Equal(t, `"bench"."principals"`, p.table)

	_, err := NewPostgres(nil)
	assert.Error(t, err)
}
