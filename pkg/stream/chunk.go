// Package stream reduces the NDJSON chunk stream of an execution into
// discrete chat messages and relays it to the client.
package stream

// Chunk types
const (
	ChunkBegin = "begin"
	ChunkItem  = "item"
	ChunkEnd   = "end"
	ChunkError = "error"
)

// Metadata identifies the node run that produced a chunk.
type Metadata struct {
	NodeID    string `json:"nodeId"`
	NodeName  string `json:"nodeName,omitempty"`
	RunIndex  int    `json:"runIndex"`
	Timestamp int64  `json:"timestamp"`
}

// StructuredChunk is one line of the engine's output stream.
type StructuredChunk struct {
	Type     string   `json:"type"`
	Content  string   `json:"content,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// EnrichedMetadata adds the persisted message a chunk belongs to.
type EnrichedMetadata struct {
	Metadata
	MessageID         string  `json:"messageId"`
	PreviousMessageID *string `json:"previousMessageId"`
	RetryOfMessageID  *string `json:"retryOfMessageId"`
}

// EnrichedStructuredChunk is what the client receives.
type EnrichedStructuredChunk struct {
	Type     string           `json:"type"`
	Content  string           `json:"content,omitempty"`
	Metadata EnrichedMetadata `json:"metadata"`
}

// Enrich attributes chunk to msg.
func Enrich(chunk StructuredChunk, msg Message) EnrichedStructuredChunk {
	return EnrichedStructuredChunk{
		Type:    chunk.Type,
		Content: chunk.Content,
		Metadata: EnrichedMetadata{
			Metadata:          chunk.Metadata,
			MessageID:         msg.ID,
			PreviousMessageID: msg.PreviousMessageID,
			RetryOfMessageID:  msg.RetryOfMessageID,
		},
	}
}
