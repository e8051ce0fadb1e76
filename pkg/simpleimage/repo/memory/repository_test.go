package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	"github.com/tendant/simple-image/pkg/simpleimage/simpleimagetest"
)

func TestMemoryRepository(t *testing.T) {
	simpleimagetest.RepositoryContract(t, func(t *testing.T) simpleimage.Repository {
		return memory.New()
	})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	att := &simpleimage.Attachment{OwnerType: "Users", Filename: "a.png"}
	require.NoError(t, repo.CreateAttachment(ctx, att))
	att.Filename = "changed.png"

	got, err := repo.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.png", got.Filename)

	got.Filename = "mutated.png"
	again, err := repo.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.png", again.Filename)
}

func TestMemoryRepository_NestedTransaction(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	err := repo.InTx(ctx, func(tx simpleimage.Repository) error {
		return tx.InTx(ctx, func(inner simpleimage.Repository) error {
			return inner.CreateAttachment(ctx, &simpleimage.Attachment{OwnerType: "Users", Filename: "n.png"})
		})
	})
	require.NoError(t, err)

	n, err := repo.CountByFilename(ctx, "Users", "n.png", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
