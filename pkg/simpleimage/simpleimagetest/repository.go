package simpleimagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// RepositoryContract exercises the behaviour every Repository must share.
// newRepo must return an empty repository with the schema in place.
func RepositoryContract(t *testing.T, newRepo func(t *testing.T) simpleimage.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	attachment := func(ownerKey uint64, field, filename string) *simpleimage.Attachment {
		return &simpleimage.Attachment{
			OwnerKey: ownerKey, OwnerType: "Users", Field: field,
			Filename: filename, Mime: "image/png", SizeBytes: 42, CreatedAt: now,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)
		att := attachment(7, "avatar", "abc.png")
		require.NoError(t, repo.CreateAttachment(ctx, att))
		require.NotZero(t, att.ID)

		got, err := repo.GetAttachment(ctx, att.ID)
		require.NoError(t, err)
		assert.Equal(t, att.OwnerKey, got.OwnerKey)
		assert.Equal(t, "Users", got.OwnerType)
		assert.Equal(t, "avatar", got.Field)
		assert.Equal(t, "abc.png", got.Filename)
		assert.Equal(t, "image/png", got.Mime)
		assert.Equal(t, int64(42), got.SizeBytes)
		assert.True(t, now.Equal(got.CreatedAt), "created %v != %v", got.CreatedAt, now)

		_, err = repo.GetAttachment(ctx, att.ID+100)
		assert.ErrorIs(t, err, simpleimage.ErrAttachmentNotFound)
	})

	t.Run("ListFilters", func(t *testing.T) {
		repo := newRepo(t)
		for _, a := range []*simpleimage.Attachment{
			attachment(1, "avatar", "a.png"),
			attachment(1, "gallery", "b.png"),
			attachment(1, "gallery", "c.png"),
			attachment(2, "gallery", "b.png"),
		} {
			require.NoError(t, repo.CreateAttachment(ctx, a))
		}
		other := attachment(1, "avatar", "a.png")
		other.OwnerType = "Posts"
		require.NoError(t, repo.CreateAttachment(ctx, other))

		list := func(opts ...simpleimage.ListOption) []string {
			atts, err := repo.ListAttachments(ctx, simpleimage.NewListParams("Users", opts...))
			require.NoError(t, err)
			names := make([]string, 0, len(atts))
			for _, a := range atts {
				names = append(names, a.Filename)
			}
			return names
		}

		assert.Equal(t, []string{"a.png", "b.png", "c.png", "b.png"}, list())
		assert.Equal(t, []string{"a.png", "b.png", "c.png"}, list(simpleimage.WithOwnerKey(1)))
		assert.Equal(t, []string{"b.png", "c.png"}, list(simpleimage.WithOwnerKey(1), simpleimage.WithField("gallery")))
		assert.Equal(t, []string{"b.png", "b.png"}, list(simpleimage.WithFilename("b.png")))
		assert.Equal(t, []string{"b.png", "c.png"}, list(simpleimage.WithPagination(2, 1)))
		assert.Empty(t, list(simpleimage.WithPagination(10, 10)))
	})

	t.Run("DeleteAndCount", func(t *testing.T) {
		repo := newRepo(t)
		a := attachment(1, "avatar", "same.png")
		b := attachment(2, "avatar", "same.png")
		require.NoError(t, repo.CreateAttachment(ctx, a))
		require.NoError(t, repo.CreateAttachment(ctx, b))

		n, err := repo.CountByFilename(ctx, "Users", "same.png", a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = repo.CountByFilename(ctx, "Posts", "same.png", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, repo.DeleteAttachment(ctx, b.ID))
		n, err = repo.CountByFilename(ctx, "Users", "same.png", a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		assert.ErrorIs(t, repo.DeleteAttachment(ctx, b.ID), simpleimage.ErrAttachmentNotFound)
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.InTx(ctx, func(tx simpleimage.Repository) error {
			return tx.CreateAttachment(ctx, attachment(1, "avatar", "tx.png"))
		})
		require.NoError(t, err)

		atts, err := repo.ListAttachments(ctx, simpleimage.NewListParams("Users"))
		require.NoError(t, err)
		assert.Len(t, atts, 1)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		repo := newRepo(t)
		kept := attachment(1, "avatar", "kept.png")
		require.NoError(t, repo.CreateAttachment(ctx, kept))

		boom := errors.New("boom")
		err := repo.InTx(ctx, func(tx simpleimage.Repository) error {
			require.NoError(t, tx.DeleteAttachment(ctx, kept.ID))
			require.NoError(t, tx.CreateAttachment(ctx, attachment(1, "avatar", "new.png")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		atts, err := repo.ListAttachments(ctx, simpleimage.NewListParams("Users"))
		require.NoError(t, err)
		require.Len(t, atts, 1)
		assert.Equal(t, "kept.png", atts[0].Filename)
	})
}
