package interfaces

// ChatMessage is one viewer message received from the chat platform.
type ChatMessage struct {
	ID            string `json:"id"`
	Channel       string `json:"channel"`
	Username      string `json:"username"`
	UserID        string `json:"userId,omitempty"`
	Message       string `json:"message"`
	Color         string `json:"color,omitempty"`
	Timestamp     string `json:"timestamp"`
	IsSubscriber  bool   `json:"isSubscriber,omitempty"`
	IsMod         bool   `json:"isMod,omitempty"`
	IsBroadcaster bool   `json:"isBroadcaster,omitempty"`
}
