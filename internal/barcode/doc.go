// Package barcode decodes linear and matrix optical codes inside an image
// region. The Backend interface keeps the pipeline independent of the
// decoding library; the default implementation is built on gozxing.
package barcode
