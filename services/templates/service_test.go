package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"webharvest-backend/lib/template"
)

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "templates.json")

	service, err := NewService(file)
	require.NoError(t, err)
	require.Empty(t, service.List(ctx))

	created, err := service.Upsert(ctx, template.Template{
		Name: "lich-thi-dau",
		Config: template.Config{
			Select: template.Select{List: ".row"},
		},
		IsActive: true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	got, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "lich-thi-dau", got.Name)

	created.Name = "lich-thi-dau-v2"
	updated, err := service.Upsert(ctx, created)
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Len(t, service.List(ctx), 1)

	// a fresh service instance sees the persisted state
	reloaded, err := NewService(file)
	require.NoError(t, err)
	got, err = reloaded.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "lich-thi-dau-v2", got.Name)

	deleted, err := reloaded.Delete(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = reloaded.Delete(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	_, err = reloaded.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceRejectsCorruptStore(t *testing.T) {
	file := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o644))

	_, err := NewService(file)
	require.Error(t, err)
}
