package domain

import "errors"

// Error kinds. Operations wrap the underlying cause with one of these so
// callers can branch with errors.Is.
var (
	// ErrConfiguration indicates bad paths, model identifiers or options.
	ErrConfiguration = errors.New("configuration error")

	// ErrIngestion indicates a load, chunk, embed or persist failure during ingest.
	ErrIngestion = errors.New("ingestion error")

	// ErrRetrieval indicates the vector index was unreachable or the query failed.
	ErrRetrieval = errors.New("retrieval error")

	// ErrGeneration indicates the model service was unreachable or answered badly.
	ErrGeneration = errors.New("generation error")

	// ErrLogWrite indicates the query log could not be written.
	// It is reported but never fails an answer.
	ErrLogWrite = errors.New("log write error")

	// ErrTimeout indicates an embedder or generator call exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrNoDocumentsSelected is returned when a question is asked with an
	// empty document selection.
	ErrNoDocumentsSelected = errors.New("no documents selected")

	// ErrInvalidRecord indicates a record failed validation at write time.
	ErrInvalidRecord = errors.New("invalid record")
)
