package models

// Update is one entry of the messenger's update stream.
type Update struct {
	ID      int
	Message *InboundMessage
}

type InboundMessage struct {
	ID      int
	ChatID  int64
	Private bool
	Text    string
	From    Sender
}

type Sender struct {
	ID        int64
	FirstName string
	Username  string
}

// LinkButton is the single actionable control attached to a broadcast.
type LinkButton struct {
	Text string
	URL  string
}
