package simpleimage

import "context"

// Hook system allows observing the attachment lifecycle without modifying
// core code. Hooks run synchronously in registration order.

// Hooks defines all available lifecycle hooks
type Hooks struct {
	AfterStore            []StoreHook
	AfterAttachmentCreate []AttachmentHook
	AfterAttachmentDelete []AttachmentHook
	AfterReclaim          []ReclaimHook
	AfterVariant          []VariantHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// StoreHook is called after ContentStore placed a file
type StoreHook func(hctx *HookContext, ownerType string, file *StoredFile)

// AttachmentHook is called after an attachment row was created or deleted
type AttachmentHook func(hctx *HookContext, attachment *Attachment)

// ReclaimHook is called after reclamation decided about a file.
// removed is false when another row still references it.
type ReclaimHook func(hctx *HookContext, attachment *Attachment, removed bool)

// VariantHook is called after a preset variant was ensured.
// generated is false when the variant already existed.
type VariantHook func(hctx *HookContext, attachment *Attachment, preset string, generated bool)

// ErrorHook is called when an isolated item fails
type ErrorHook func(hctx *HookContext, operation string, err error)

// Merge appends every hook of other to h.
func (h *Hooks) Merge(other *Hooks) {
	if other == nil {
		return
	}
	h.AfterStore = append(h.AfterStore, other.AfterStore...)
	h.AfterAttachmentCreate = append(h.AfterAttachmentCreate, other.AfterAttachmentCreate...)
	h.AfterAttachmentDelete = append(h.AfterAttachmentDelete, other.AfterAttachmentDelete...)
	h.AfterReclaim = append(h.AfterReclaim, other.AfterReclaim...)
	h.AfterVariant = append(h.AfterVariant, other.AfterVariant...)
	h.OnError = append(h.OnError, other.OnError...)
}

func (h *Hooks) executeAfterStore(ctx context.Context, ownerType string, file *StoredFile) {
	if h == nil || len(h.AfterStore) == 0 {
		return
	}
	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterStore {
		hook(hctx, ownerType, file)
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeAttachment(ctx context.Context, hooks []AttachmentHook, att *Attachment) {
	if len(hooks) == 0 {
		return
	}
	hctx := NewHookContext(ctx)
	for _, hook := range hooks {
		hook(hctx, att)
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeAfterAttachmentCreate(ctx context.Context, att *Attachment) {
	if h == nil {
		return
	}
	h.executeAttachment(ctx, h.AfterAttachmentCreate, att)
}

func (h *Hooks) executeAfterAttachmentDelete(ctx context.Context, att *Attachment) {
	if h == nil {
		return
	}
	h.executeAttachment(ctx, h.AfterAttachmentDelete, att)
}

func (h *Hooks) executeAfterReclaim(ctx context.Context, att *Attachment, removed bool) {
	if h == nil || len(h.AfterReclaim) == 0 {
		return
	}
	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterReclaim {
		hook(hctx, att, removed)
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeAfterVariant(ctx context.Context, att *Attachment, preset string, generated bool) {
	if h == nil || len(h.AfterVariant) == 0 {
		return
	}
	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterVariant {
		hook(hctx, att, preset, generated)
		if hctx.StopChain {
			break
		}
	}
}

// executeOnError runs all OnError hooks
func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if h == nil || len(h.OnError) == 0 {
		return
	}
	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// LoggingHook logs lifecycle events through logger
func LoggingHook(logger func(format string, args ...interface{})) *Hooks {
	return &Hooks{
		AfterAttachmentCreate: []AttachmentHook{
			func(hctx *HookContext, att *Attachment) {
				logger("Attachment created: %d (%s#%d %s %s)", att.ID, att.OwnerType, att.OwnerKey, att.Field, att.Filename)
			},
		},
		AfterAttachmentDelete: []AttachmentHook{
			func(hctx *HookContext, att *Attachment) {
				logger("Attachment deleted: %d (%s)", att.ID, att.Filename)
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, operation string, err error) {
				logger("Error in %s: %v", operation, err)
			},
		},
	}
}
