package a2a

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Part kinds.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// FileContent carries file data either inline or by reference.
type FileContent struct {
	// Optional filename.
	Name *string `json:"name,omitempty"`
	// Optional MIME type of the content.
	MimeType *string `json:"mimeType,omitempty"`
	// Base64 encoded content. Mutually exclusive with URI.
	Bytes *string `json:"bytes,omitempty"`
	// URI pointing to the content. Mutually exclusive with Bytes.
	URI *string `json:"uri,omitempty"`
}

// Part is one content element of a message or artifact. The Kind field
// selects which of the payload fields is populated.
type Part struct {
	// Part type: "text", "file" or "data". (Required)
	Kind string `json:"kind"`
	// Text payload, set when Kind is "text".
	Text *string `json:"text,omitempty"`
	// File payload, set when Kind is "file".
	File *FileContent `json:"file,omitempty"`
	// Structured payload, set when Kind is "data".
	Data map[string]any `json:"data,omitempty"`
	// Optional metadata for this part.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: &text}
}

// Message is a single utterance from a user or an agent.
type Message struct {
	// Type discriminator, always "message".
	Kind string `json:"kind"`
	// Unique identifier of the message. (Required)
	MessageID string `json:"messageId"`
	// Sender role, "user" or "agent". (Required)
	Role string `json:"role"`
	// Ordered content parts. (Required)
	Parts []Part `json:"parts"`
	// Task this message belongs to, when known.
	TaskID *string `json:"taskId,omitempty"`
	// Context this message belongs to, when known.
	ContextID *string `json:"contextId,omitempty"`
	// Identifiers of other tasks the message refers to.
	ReferenceTaskIDs []string `json:"referenceTaskIds,omitempty"`
	// Extension URIs relevant to this message.
	Extensions []string `json:"extensions,omitempty"`
	// Optional metadata for the message.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventKind implements Event. A message may terminate a stream.
func (*Message) EventKind() string { return KindMessage }
