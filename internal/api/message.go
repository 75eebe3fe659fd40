package api

import (
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// Live feed message types
const (
	MessageWelcome       = "welcome"
	MessageFlightStarted = "flight_started"
	MessageFlightEnded   = "flight_ended"
	MessageRecord        = "record"
	MessagePong          = "pong"
)

// Message is the envelope of every live feed message
type Message struct {
	Type      string    `json:"type"`                // One of the Message* constants
	Timestamp time.Time `json:"timestamp"`           // When the message was created
	FlightID  int64     `json:"flight_id,omitempty"` // Flight the message is about
	Data      any       `json:"data,omitempty"`      // Type specific payload
}

// RecordData is the payload of a record message
type RecordData struct {
	survey.LogEntry
	Record *telemetry.Record `json:"record"`
}

// command is a message sent by a live feed client
type command struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // Echoed back to correlate the response
}
