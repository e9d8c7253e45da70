package interfaces

// EventKind identifies a broadcast event. One payload type per kind.
type EventKind string

const (
	EventStateSync       EventKind = "state:sync"
	EventModeChanged     EventKind = "mode:changed"
	EventStarted         EventKind = "commentary:started"
	EventStopped         EventKind = "commentary:stopped"
	EventProcessing      EventKind = "commentary:processing"
	EventScreenshot      EventKind = "commentary:screenshot"
	EventText            EventKind = "commentary:text"
	EventAudio           EventKind = "commentary:audio"
	EventError           EventKind = "commentary:error"
	EventIntervalChanged EventKind = "interval:changed"
	EventSettingsUpdated EventKind = "settings:updated"
	EventMemoryCreated   EventKind = "memory:created"
	EventMemoryUpdated   EventKind = "memory:updated"
	EventMemoryDeleted   EventKind = "memory:deleted"
	EventMemoryActive    EventKind = "memory:activeUpdated"
	EventSessionStarted  EventKind = "memory:sessionStarted"
	EventChatMessage     EventKind = "twitch:message"
	EventChatStatus      EventKind = "twitch:status"
	EventChatReply       EventKind = "twitch:aiReply"
	EventOBSStatus       EventKind = "obs:status"
)

// Event is a typed broadcast message fanned out to all subscribers.
type Event struct {
	Kind    EventKind   `json:"type"`
	Payload interface{} `json:"data"`
}

// EventPublisher broadcasts events to zero or more subscribers. Events
// published from one pipeline run are delivered in publish order.
type EventPublisher interface {
	Publish(event Event)
}

// Pipeline progress stages carried by EventProcessing.
const (
	StageCapturing    = "capturing"
	StageAnalyzing    = "analyzing"
	StageSynthesizing = "synthesizing"
	StageComplete     = "complete"
)

type ProcessingPayload struct {
	Status string `json:"status"`
}

type ScreenshotPayload struct {
	Screenshot string `json:"screenshot"`
}

type TextPayload struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	InputText string `json:"inputText,omitempty"`
	Direct    bool   `json:"direct,omitempty"`
}

type AudioPayload struct {
	AudioURL  string `json:"audioUrl"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type ModePayload struct {
	Mode string `json:"mode"`
}

type IntervalPayload struct {
	Seconds int `json:"seconds"`
}
