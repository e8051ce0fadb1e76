package simpleimage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Changes lists the rows written and removed by a record operation.
// Superseded rows are reclaimed once the transaction has committed.
type Changes struct {
	Created    []*Attachment
	Superseded []*Attachment
}

func (c *Changes) merge(other *Changes) {
	if other == nil {
		return
	}
	c.Created = append(c.Created, other.Created...)
	c.Superseded = append(c.Superseded, other.Superseded...)
}

// AttachmentManager maintains attachment rows and reclaims their files.
type AttachmentManager struct {
	repo     Repository
	store    *ContentStore
	registry *Registry
	logger   *slog.Logger
	hooks    *Hooks
	now      func() time.Time

	// recheck, when positive, counts references a second time after this
	// delay before deleting a file.
	recheck time.Duration
}

// NewAttachmentManager creates a manager over repo and store.
func NewAttachmentManager(repo Repository, store *ContentStore, registry *Registry, logger *slog.Logger) *AttachmentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentManager{
		repo:     repo,
		store:    store,
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *AttachmentManager) bind(tx Repository) Repository {
	if tx == nil {
		return m.repo
	}
	return tx
}

// ReplaceSingle deletes the existing rows of a single-valued field and
// inserts the new ones.
func (m *AttachmentManager) ReplaceSingle(ctx context.Context, tx Repository, owner OwnerRef, field string, stored []*StoredFile) (*Changes, error) {
	tx = m.bind(tx)
	existing, err := tx.ListAttachments(ctx, NewListParams(owner.Type, WithOwnerKey(owner.Key), WithField(field)))
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments of %s.%s: %w", owner, field, err)
	}

	changes := &Changes{}
	for _, att := range existing {
		if err := tx.DeleteAttachment(ctx, att.ID); err != nil {
			return nil, fmt.Errorf("failed to delete attachment %d: %w", att.ID, err)
		}
		changes.Superseded = append(changes.Superseded, att)
	}

	created, err := m.AppendMany(ctx, tx, owner, field, stored)
	if err != nil {
		return nil, err
	}
	changes.merge(created)
	return changes, nil
}

// AppendMany inserts one row per stored file.
func (m *AttachmentManager) AppendMany(ctx context.Context, tx Repository, owner OwnerRef, field string, stored []*StoredFile) (*Changes, error) {
	tx = m.bind(tx)
	changes := &Changes{}
	for _, file := range stored {
		att := &Attachment{
			OwnerKey:  owner.Key,
			OwnerType: owner.Type,
			Field:     field,
			Filename:  file.Filename,
			Mime:      file.Mime,
			SizeBytes: file.SizeBytes,
			CreatedAt: m.now(),
		}
		if err := tx.CreateAttachment(ctx, att); err != nil {
			return nil, fmt.Errorf("failed to create attachment for %s.%s: %w", owner, field, err)
		}
		changes.Created = append(changes.Created, att)
	}
	return changes, nil
}

// DeleteForOwner deletes every row of the owner and returns them.
func (m *AttachmentManager) DeleteForOwner(ctx context.Context, tx Repository, ownerType string, ownerKey uint64) ([]*Attachment, error) {
	tx = m.bind(tx)
	rows, err := tx.ListAttachments(ctx, NewListParams(ownerType, WithOwnerKey(ownerKey)))
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments of %s#%d: %w", ownerType, ownerKey, err)
	}
	for _, att := range rows {
		if err := tx.DeleteAttachment(ctx, att.ID); err != nil {
			return nil, fmt.Errorf("failed to delete attachment %d: %w", att.ID, err)
		}
	}
	return rows, nil
}

// Delete removes a single attachment and reclaims its files. Reclamation
// failures are reported, the row stays deleted.
func (m *AttachmentManager) Delete(ctx context.Context, id uint64) (*Attachment, *Report, error) {
	var deleted *Attachment
	err := m.repo.InTx(ctx, func(tx Repository) error {
		att, err := tx.GetAttachment(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteAttachment(ctx, id); err != nil {
			return err
		}
		deleted = att
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	m.hooks.executeAfterAttachmentDelete(ctx, deleted)
	report := NewReport()
	if _, err := m.Reclaim(ctx, deleted); err != nil {
		report.Add(err)
	}
	return deleted, report, nil
}

// Reclaim deletes the files of a removed attachment when no other row of the
// same owner type references its filename. It reports whether files were
// deleted.
func (m *AttachmentManager) Reclaim(ctx context.Context, att *Attachment) (bool, error) {
	refs, err := m.repo.CountByFilename(ctx, att.OwnerType, att.Filename, att.ID)
	if err != nil {
		return false, fmt.Errorf("failed to count references to %s: %w", att.Filename, err)
	}
	if refs > 0 {
		m.logger.DebugContext(ctx, "file still referenced", "filename", att.Filename, "refs", refs)
		m.hooks.executeAfterReclaim(ctx, att, false)
		return false, nil
	}

	if m.recheck > 0 {
		select {
		case <-time.After(m.recheck):
		case <-ctx.Done():
			return false, ctx.Err()
		}
		refs, err = m.repo.CountByFilename(ctx, att.OwnerType, att.Filename, att.ID)
		if err != nil {
			return false, fmt.Errorf("failed to recount references to %s: %w", att.Filename, err)
		}
		if refs > 0 {
			m.logger.WarnContext(ctx, "file referenced again during reclamation", "filename", att.Filename, "owner_type", att.OwnerType)
			m.hooks.executeAfterReclaim(ctx, att, false)
			return false, nil
		}
	}

	if err := m.store.Reclaim(ctx, att.OwnerType, att.Filename, m.registry.PresetNames(att.OwnerType)); err != nil {
		return false, err
	}
	m.logger.InfoContext(ctx, "reclaimed file", "owner_type", att.OwnerType, "filename", att.Filename)
	m.hooks.executeAfterReclaim(ctx, att, true)
	return true, nil
}
