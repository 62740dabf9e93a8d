package a2a

// Transport protocol identifiers used in agent cards.
const (
	TransportJSONRPC  = "JSONRPC"
	TransportHTTPJSON = "HTTP+JSON"
)

// AgentProvider contains information about the organization providing the agent.
type AgentProvider struct {
	// Name of the organization.
	Organization string `json:"organization"`
	// URL of the organization's website.
	URL *string `json:"url,omitempty"`
}

// AgentCapabilities lists the optional capabilities supported by the agent.
type AgentCapabilities struct {
	// Indicates if the agent supports Server-Sent Events streaming.
	Streaming bool `json:"streaming,omitempty"`
	// Indicates if the agent supports push notification configuration.
	PushNotifications bool `json:"pushNotifications,omitempty"`
	// Indicates if the agent exposes task state transition history.
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
	// Protocol extensions supported by the agent.
	Extensions []AgentExtension `json:"extensions,omitempty"`
}

// AgentExtension declares support for a protocol extension.
type AgentExtension struct {
	// URI identifying the extension. (Required)
	URI string `json:"uri"`
	// True when the agent requires clients to activate the extension.
	Required bool `json:"required,omitempty"`
	// Human-readable description of how the extension is used.
	Description *string `json:"description,omitempty"`
}

// AgentInterface advertises one transport endpoint of the agent.
type AgentInterface struct {
	// The endpoint URL. (Required)
	URL string `json:"url"`
	// The transport protocol at that URL, e.g. "JSONRPC" or "HTTP+JSON". (Required)
	Transport string `json:"transport"`
}

// AgentSkill describes a specific capability offered by the agent.
type AgentSkill struct {
	// Unique identifier for the skill.
	ID string `json:"id"`
	// Human-readable name of the skill.
	Name string `json:"name"`
	// Detailed description of the skill.
	Description *string `json:"description,omitempty"`
	// Keywords or tags associated with the skill.
	Tags []string `json:"tags,omitempty"`
	// Examples demonstrating how to use the skill.
	Examples []string `json:"examples,omitempty"`
	// Input content types supported specifically by this skill.
	InputModes []string `json:"inputModes,omitempty"`
	// Output content types produced specifically by this skill.
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCard provides metadata about an agent, enabling discovery and
// capability negotiation. Served at `/.well-known/agent-card.json`.
type AgentCard struct {
	// Human-readable name of the agent. (Required)
	Name string `json:"name"`
	// A brief description of the agent's purpose.
	Description *string `json:"description,omitempty"`
	// The base URL of the agent's preferred transport endpoint. (Required)
	URL string `json:"url"`
	// Transport protocol served at URL. Defaults to "JSONRPC".
	PreferredTransport string `json:"preferredTransport,omitempty"`
	// Additional transport endpoints the agent serves.
	AdditionalInterfaces []AgentInterface `json:"additionalInterfaces,omitempty"`
	// Information about the agent's provider.
	Provider *AgentProvider `json:"provider,omitempty"`
	// Version of the agent or its API. (Required)
	Version string `json:"version"`
	// URL pointing to the agent's documentation.
	DocumentationURL *string `json:"documentationUrl,omitempty"`
	// Capabilities supported by the agent. (Required)
	Capabilities AgentCapabilities `json:"capabilities"`
	// Default input content types supported by the agent.
	DefaultInputModes []string `json:"defaultInputModes,omitempty"`
	// Default output content types produced by the agent.
	DefaultOutputModes []string `json:"defaultOutputModes,omitempty"`
	// List of specific skills the agent offers. (Required, may be empty)
	Skills []AgentSkill `json:"skills"`
	// True when an authenticated extended card is available.
	SupportsAuthenticatedExtendedCard bool `json:"supportsAuthenticatedExtendedCard,omitempty"`
}
