// Package ipc defines the line-delimited JSON message shapes exchanged
// between the parent process (ThreadPool) and the worker-host child process,
// and between the worker-host and its worker threads.
package ipc

// Type is the tagged discriminator carried by every IPC message.
type Type string

const (
	TypeInit             Type = "init"
	TypeInitAck          Type = "init-ack"
	TypeShutdown         Type = "shutdown"
	TypeLog              Type = "log"
	TypeSearchBatch      Type = "searchBatch"
	TypeIndexBatch       Type = "indexBatch"
	TypeComputeChunks    Type = "computeChunksBatch"
)

// Envelope is the outer shape every message decodes into far enough to read
// its discriminator before dispatching to a type-specific payload.
type Envelope struct {
	Type      Type   `json:"type"`
	MessageID uint32 `json:"messageId,omitempty"`
}

// Init is sent parent -> host once, immediately after spawn.
type Init struct {
	Type       Type `json:"type"`
	NumThreads int  `json:"numThreads"`
}

// InitAck is sent host -> parent once the requested worker threads exist.
type InitAck struct {
	Type       Type `json:"type"`
	NumThreads int  `json:"numThreads"`
}

// Shutdown is sent parent -> host to request a graceful stop.
type Shutdown struct {
	Type Type `json:"type"`
}

// Log is relayed host -> parent for every worker log line; it never
// consumes a message id and is not correlated with any pending request.
type Log struct {
	Type    Type   `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SearchInput is one file to regex-search.
type SearchInput struct {
	FilePath string     `json:"filePath"`
	Patterns []string   `json:"patterns"`
	Literals [][]string `json:"literals,omitempty"` // per-pattern byte-substring pre-filter, same order as Patterns
}

// SearchMatch is one matching line within a searched file.
type SearchMatch struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchOutput is the result for one SearchInput, in the same slot.
type SearchOutput struct {
	FilePath string        `json:"filePath"`
	Matches  []SearchMatch `json:"matches,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// SearchBatchRequest asks the host to regex-search a batch of files.
type SearchBatchRequest struct {
	Type      Type          `json:"type"`
	MessageID uint32        `json:"messageId"`
	Inputs    []SearchInput `json:"inputs"`
}

// SearchBatchResponse carries one SearchOutput per SearchInput.
type SearchBatchResponse struct {
	Type      Type           `json:"type"`
	MessageID uint32         `json:"messageId"`
	Outputs   []SearchOutput `json:"outputs"`
}

// IndexStatus is the outcome of tagging one file.
type IndexStatus string

const (
	IndexStatusIndexed IndexStatus = "Indexed"
	IndexStatusSkipped IndexStatus = "Skipped"
	IndexStatusFailed  IndexStatus = "Failed"
)

// IndexInput is one file to tag.
type IndexInput struct {
	FilePath string `json:"filePath"`
	TagPath  string `json:"tagPath"`
}

// IndexOutput is the result for one IndexInput, in the same slot.
type IndexOutput struct {
	FilePath string      `json:"filePath"`
	Status   IndexStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// IndexBatchRequest asks the host to run the tagger over a batch of files.
type IndexBatchRequest struct {
	Type      Type         `json:"type"`
	MessageID uint32       `json:"messageId"`
	Inputs    []IndexInput `json:"inputs"`
}

// IndexBatchResponse carries one IndexOutput per IndexInput.
type IndexBatchResponse struct {
	Type      Type          `json:"type"`
	MessageID uint32        `json:"messageId"`
	Outputs   []IndexOutput `json:"outputs"`
}

// ChunkInput is one file to chunk.
type ChunkInput struct {
	FilePath string `json:"filePath"`
	TagPath  string `json:"tagPath"`
}

// ChunkRecord is one emitted chunk.
type ChunkRecord struct {
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Text      string `json:"text"`
	SHA256    string `json:"sha256"`
}

// ChunkOutput is the result for one ChunkInput, in the same slot.
type ChunkOutput struct {
	FilePath string        `json:"filePath"`
	Chunks   []ChunkRecord `json:"chunks,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ComputeChunksBatchRequest asks the host to chunk a batch of files.
type ComputeChunksBatchRequest struct {
	Type      Type         `json:"type"`
	MessageID uint32       `json:"messageId"`
	Inputs    []ChunkInput `json:"inputs"`
}

// ComputeChunksBatchResponse carries one ChunkOutput per ChunkInput.
type ComputeChunksBatchResponse struct {
	Type      Type          `json:"type"`
	MessageID uint32        `json:"messageId"`
	Outputs   []ChunkOutput `json:"outputs"`
}
