package format

import "time"

// Message is a structured notification ready for delivery. It carries
// everything a destination embed needs without depending on the messaging
// system's wire format.
type Message struct {
	Title       string
	URL         string
	Description string
	Color       int
	Timestamp   time.Time
	Author      *Author
	Footer      string
	Fields      []Field
}

// Author identifies the actor behind an event.
type Author struct {
	Name    string
	URL     string
	IconURL string
}

// Field is one name/value pair rendered inside a message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

func (m *Message) addField(name, value string, inline bool) {
	if value == "" {
		return
	}
	m.Fields = append(m.Fields, Field{Name: name, Value: value, Inline: inline})
}
