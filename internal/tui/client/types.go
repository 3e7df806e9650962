// Package client provides WebSocket and HTTP clients for the health
// companion server. Types mirror the server's wire formats without
// importing server packages.
package client

// MessageType identifies the kind of chat frame.
type MessageType string

const (
	MsgChat  MessageType = "chat"
	MsgChunk MessageType = "chunk"
	MsgDone  MessageType = "done"
	MsgError MessageType = "error"
)

// Frame is one chat message in either direction.
type Frame struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content,omitempty"`
}

// chatFrame always carries content, even when empty.
type chatFrame struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

type Weather struct {
	Icon string `json:"icon"`
	Desc string `json:"desc"`
	Temp string `json:"temp"`
}

// Welcome is the greeting shown in the header.
type Welcome struct {
	Greeting string  `json:"greeting"`
	Date     string  `json:"date"`
	Weather  Weather `json:"weather"`
}

type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

type Device struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Badge  Badge  `json:"badge"`
}

// Metric is one vital sign. Value is a number or a preformatted string.
type Metric struct {
	Value   any    `json:"value"`
	Unit    string `json:"unit,omitempty"`
	Range   string `json:"range"`
	Percent int    `json:"percent"`
}

type HealthStatus struct {
	StatusText    string `json:"statusText"`
	HeartRate     Metric `json:"heartRate"`
	BloodPressure Metric `json:"bloodPressure"`
	Temperature   Metric `json:"temperature"`
	Sleep         Metric `json:"sleep"`
}

// envelope is the {code, data, msg} wrapper of the dashboard endpoints.
type envelope[T any] struct {
	Code int    `json:"code"`
	Data T      `json:"data"`
	Msg  string `json:"msg"`
}
