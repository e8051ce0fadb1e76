package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Repository implements simpleimage.Repository using in-memory storage.
// Transactions are serialized and roll back by restoring a snapshot.
type Repository struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	rows   map[uint64]*simpleimage.Attachment
	nextID uint64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		rows: make(map[uint64]*simpleimage.Attachment),
	}
}

func (r *Repository) CreateAttachment(ctx context.Context, att *simpleimage.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	att.ID = r.nextID

	// Store a copy to avoid external modifications
	attCopy := *att
	r.rows[att.ID] = &attCopy
	return nil
}

func (r *Repository) GetAttachment(ctx context.Context, id uint64) (*simpleimage.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	att, ok := r.rows[id]
	if !ok {
		return nil, simpleimage.ErrAttachmentNotFound
	}
	attCopy := *att
	return &attCopy, nil
}

func (r *Repository) ListAttachments(ctx context.Context, params simpleimage.ListAttachmentsParams) ([]*simpleimage.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simpleimage.Attachment
	for _, att := range r.rows {
		if matches(att, params) {
			attCopy := *att
			result = append(result, &attCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if params.Offset != nil {
		if *params.Offset >= len(result) {
			return nil, nil
		}
		result = result[*params.Offset:]
	}
	if params.Limit != nil && *params.Limit < len(result) {
		result = result[:*params.Limit]
	}
	return result, nil
}

func matches(att *simpleimage.Attachment, params simpleimage.ListAttachmentsParams) bool {
	if params.OwnerType != "" && att.OwnerType != params.OwnerType {
		return false
	}
	if params.OwnerKey != nil && att.OwnerKey != *params.OwnerKey {
		return false
	}
	if params.Field != nil && att.Field != *params.Field {
		return false
	}
	if params.Filename != nil && att.Filename != *params.Filename {
		return false
	}
	return true
}

func (r *Repository) DeleteAttachment(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return simpleimage.ErrAttachmentNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *Repository) CountByFilename(ctx context.Context, ownerType, filename string, excludeID uint64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for id, att := range r.rows {
		if id != excludeID && att.OwnerType == ownerType && att.Filename == filename {
			n++
		}
	}
	return n, nil
}

// InTx runs fn with exclusive access to transactions. If fn fails, every
// change it made is discarded.
func (r *Repository) InTx(ctx context.Context, fn func(tx simpleimage.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := make(map[uint64]*simpleimage.Attachment, len(r.rows))
	for id, att := range r.rows {
		snapshot[id] = att
	}
	nextID := r.nextID
	r.mu.RUnlock()

	if err := fn(&txRepository{r}); err != nil {
		r.mu.Lock()
		r.rows = snapshot
		r.nextID = nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

// txRepository is handed to InTx callbacks; nested InTx calls join the
// running transaction.
type txRepository struct {
	*Repository
}

func (t *txRepository) InTx(ctx context.Context, fn func(tx simpleimage.Repository) error) error {
	return fn(t)
}
