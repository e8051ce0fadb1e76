// Package simpleimage attaches uploaded images to owner records.
//
// A Coordinator receives upload payloads while the owner record is being
// saved, places the bytes in a BlobStore under a content-addressed filename,
// records Attachment rows through a Repository, and after commit
// materializes every configured preset variant through a Transformer.
// Deleting an owner (or superseding a single-valued field) removes the rows
// and reclaims files that no other row references.
//
// Storage Layout
//
// Originals live at {ownerType}/{filename} and variants at
// {ownerType}/{preset}/{filename}, relative to the blob store root. The
// filename is the hex SHA-256 of the file content plus the lower-cased
// original extension, so identical uploads share one physical file.
//
// Transactions
//
// BeforeCommit and BeforeDelete take the transactional Repository handed
// out by Repository.InTx. File reclamation and variant generation happen in
// AfterCommit/AfterDelete so a rolled back save never loses files.
package simpleimage
