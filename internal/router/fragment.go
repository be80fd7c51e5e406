package router

// FragmentType tags a streamed response fragment.
type FragmentType string

const (
	FragmentAssistant FragmentType = "assistant"
	FragmentTool      FragmentType = "tool"
	FragmentError     FragmentType = "error"
	// FragmentDone delimits one query's stream on multiplexed transports.
	FragmentDone FragmentType = "done"
)

// Fragment is one element of a query's response stream. Tool output carries
// a Marker so downstream UIs can fence it; error fragments carry the typed
// failure and leave the session open.
type Fragment struct {
	Type   FragmentType `json:"type"`
	Text   string       `json:"text,omitempty"`
	Marker string       `json:"marker,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the structured failure payload of an error fragment.
type ErrorDetail struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func assistant(text string) Fragment { return Fragment{Type: FragmentAssistant, Text: text} }

func tool(marker, text string) Fragment {
	return Fragment{Type: FragmentTool, Marker: marker, Text: text}
}
