// Package documents stores uploaded files for a firm.
//
// Content goes to a BlobStore (local filesystem or S3) under
// firms/{firm_id}/documents/{document_id}; metadata goes to the documents
// table. Uploads are checked against the firm's storage ceiling before any
// bytes are written, and the firm's running usage counter is adjusted after
// each upload and delete.
package documents
