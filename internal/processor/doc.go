// Package processor holds the document processors executed by workers: OCR
// through tesseract, PDF text extraction through pdftotext and translation
// through the configured language model providers.
//
// Processors report expected failures (bad input discovered late, a provider
// refusing the text, a tool exiting non-zero) through domain.Failed with a
// message safe to show clients. Returned errors are reserved for faults and
// are never shown to clients.
package processor
