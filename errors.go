package kgraph

import "errors"

var (
	// ErrConceptNotFound is returned when a concept ID does not exist.
	ErrConceptNotFound = errors.New("kgraph: concept not found")

	// ErrOntologyNotFound is returned when an ontology name does not exist.
	ErrOntologyNotFound = errors.New("kgraph: ontology not found")

	// ErrOntologyFrozen is returned when mutating a frozen ontology.
	ErrOntologyFrozen = errors.New("kgraph: ontology is frozen")

	// ErrConceptInUse is returned when deleting a concept that still has
	// edges or evidence instances attached.
	ErrConceptInUse = errors.New("kgraph: concept still referenced")

	// ErrEdgeNotFound is returned when an edge ID does not exist.
	ErrEdgeNotFound = errors.New("kgraph: edge not found")

	// ErrVocabTypeNotFound is returned when a relationship type is not in
	// the vocabulary.
	ErrVocabTypeNotFound = errors.New("kgraph: vocabulary type not found")

	// ErrInvalidRelationshipType is returned when a relationship type fails
	// validation after normalization.
	ErrInvalidRelationshipType = errors.New("kgraph: invalid relationship type")

	// ErrVocabularyBlocked is returned when the vocabulary is at the
	// emergency size and auto-expansion is refused.
	ErrVocabularyBlocked = errors.New("kgraph: vocabulary at emergency capacity")

	// ErrInvalidContentHash is returned for malformed content hashes.
	ErrInvalidContentHash = errors.New("kgraph: invalid content hash")

	// ErrArtifactNotFound is returned when an artifact ID does not exist.
	ErrArtifactNotFound = errors.New("kgraph: artifact not found")

	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("kgraph: job not found")

	// ErrJobNotCancellable is returned when cancelling a job that already
	// reached a terminal state or is actively processing.
	ErrJobNotCancellable = errors.New("kgraph: job cannot be cancelled")

	// ErrJobRunning is returned when deleting a job that is still
	// processing without force.
	ErrJobRunning = errors.New("kgraph: job is still processing")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("kgraph: document not found")

	// ErrUnsupportedFormat is returned for unrecognized document formats.
	ErrUnsupportedFormat = errors.New("kgraph: unsupported document format")

	// ErrMalformedDocument is returned when the preprocessor cannot parse
	// the input at all.
	ErrMalformedDocument = errors.New("kgraph: malformed document")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("kgraph: embedding generation failed")

	// ErrExtractionFailed is returned when every concept in a chunk fails,
	// which indicates an embedding or extraction service outage.
	ErrExtractionFailed = errors.New("kgraph: chunk extraction failed entirely")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	ErrLLMUnavailable = errors.New("kgraph: LLM provider unavailable")

	// ErrDegenerateAxis is returned when two polarity poles have nearly
	// identical embeddings.
	ErrDegenerateAxis = errors.New("kgraph: polarity poles too similar")

	// ErrNoResults is returned when a search yields no matches above the
	// requested threshold.
	ErrNoResults = errors.New("kgraph: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("kgraph: invalid configuration")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("kgraph: store is closed")

	// ErrDuplicateEdge is returned when an identical edge already exists.
	ErrDuplicateEdge = errors.New("kgraph: duplicate edge")

	// ErrBuiltinProtected is returned when deleting builtin vocabulary
	// types or aggressiveness profiles.
	ErrBuiltinProtected = errors.New("kgraph: builtin entries cannot be deleted")

	// ErrProfileExists is returned when creating an aggressiveness
	// profile whose name is taken.
	ErrProfileExists = errors.New("kgraph: profile already exists")

	// ErrProfileNotFound is returned when a profile name does not exist.
	ErrProfileNotFound = errors.New("kgraph: profile not found")
)

// ErrorKind classifies errors into the taxonomy surfaced to callers.
// Every RPC response carries one of these in its error body.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindQuotaOrLimit        ErrorKind = "quota_or_limit"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindFatal               ErrorKind = "fatal"
	KindPartialSuccess      ErrorKind = "partial_success"
)

// Kind maps an error chain to its taxonomy kind. Unrecognized errors are
// fatal: they indicate a broken invariant rather than a caller mistake.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConceptNotFound),
		errors.Is(err, ErrOntologyNotFound),
		errors.Is(err, ErrEdgeNotFound),
		errors.Is(err, ErrVocabTypeNotFound),
		errors.Is(err, ErrArtifactNotFound),
		errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrNoResults):
		return KindNotFound
	case errors.Is(err, ErrOntologyFrozen),
		errors.Is(err, ErrConceptInUse),
		errors.Is(err, ErrDuplicateEdge),
		errors.Is(err, ErrJobNotCancellable),
		errors.Is(err, ErrJobRunning),
		errors.Is(err, ErrBuiltinProtected),
		errors.Is(err, ErrProfileExists):
		return KindConflict
	case errors.Is(err, ErrInvalidRelationshipType),
		errors.Is(err, ErrInvalidContentHash),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrMalformedDocument),
		errors.Is(err, ErrDegenerateAxis),
		errors.Is(err, ErrInvalidConfig):
		return KindInvalidInput
	case errors.Is(err, ErrVocabularyBlocked):
		return KindQuotaOrLimit
	case errors.Is(err, ErrLLMUnavailable),
		errors.Is(err, ErrEmbeddingFailed):
		return KindUpstreamUnavailable
	default:
		return KindFatal
	}
}
