package router

import "time"

// EventType is the kind of a decoded protocol event.
type EventType string

const (
	EventNotice  EventType = "notice"
	EventAction  EventType = "action"
	EventPrivmsg EventType = "privmsg"
	EventWallops EventType = "wallops"
)

// Event is one decoded chat event handed over by the connection layer.
type Event struct {
	Type    EventType `json:"type" validate:"required,oneof=notice action privmsg wallops"`
	Nick    string    `json:"nick" validate:"max=128"`
	Target  string    `json:"target" validate:"max=256"`
	Message string    `json:"message" validate:"max=16384"`
	// Time is the server time of the event; zero means now.
	Time time.Time `json:"time"`
	// Self marks an echo of a message the local user sent.
	Self bool `json:"self"`
}
