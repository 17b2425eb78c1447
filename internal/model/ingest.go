package model

// IngestEnvelope carries one raw log line with source metadata.
// It is the transport contract between line sources and the extractor.
type IngestEnvelope struct {
	Source string
	Line   string
}
