// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageKind enumerates the message types carried on the secondary channel.
// Inbound kinds arrive from peers; outbound kinds are pushed to them.
type MessageKind int

const (
	KindUnknown MessageKind = iota

	// Inbound.
	KindClientRegister
	KindSessionFeedback
	KindLogoutFeedback

	// Outbound.
	KindAutoLogin
	KindLogoutNotification
	KindRegistrationSuccess
	KindError
)

const (
	typeClientRegister      = "c_client_register"
	typeSessionFeedback     = "session_feedback"
	typeLogoutFeedback      = "logout_feedback"
	typeAutoLogin           = "auto_login"
	typeLogoutNotification  = "logout_notification"
	typeRegistrationSuccess = "registration_success"
	typeError               = "error"
)

// ParseKind maps a wire type string to a MessageKind.
func ParseKind(s string) MessageKind {
	switch s {
	case typeClientRegister:
		return KindClientRegister
	case typeSessionFeedback:
		return KindSessionFeedback
	case typeLogoutFeedback:
		return KindLogoutFeedback
	case typeAutoLogin:
		return KindAutoLogin
	case typeLogoutNotification:
		return KindLogoutNotification
	case typeRegistrationSuccess:
		return KindRegistrationSuccess
	case typeError:
		return KindError
	default:
		return KindUnknown
	}
}

// String returns the wire type string for the kind.
func (k MessageKind) String() string {
	switch k {
	case KindClientRegister:
		return typeClientRegister
	case KindSessionFeedback:
		return typeSessionFeedback
	case KindLogoutFeedback:
		return typeLogoutFeedback
	case KindAutoLogin:
		return typeAutoLogin
	case KindLogoutNotification:
		return typeLogoutNotification
	case KindRegistrationSuccess:
		return typeRegistrationSuccess
	case KindError:
		return typeError
	default:
		return "unknown"
	}
}

// Envelope is the wire shape of inbound secondary-channel messages.
// Fields beyond Type are populated depending on the message kind.
type Envelope struct {
	Type      string         `json:"type"`
	ClientID  string         `json:"client_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	DomainID  string         `json:"domain_id,omitempty"`
	ClusterID string         `json:"cluster_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ParseEnvelope decodes an inbound message.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrValidation)
	}
	return &env, nil
}

// Identity extracts the client identity carried by the envelope.
func (e *Envelope) Identity() Identity {
	return Identity{
		ClientID:  e.ClientID,
		UserID:    e.UserID,
		Username:  e.Username,
		NodeID:    e.NodeID,
		DomainID:  e.DomainID,
		ClusterID: e.ClusterID,
		ChannelID: e.ChannelID,
	}
}

// ValidateRegistration checks the required registration fields.
func (e *Envelope) ValidateRegistration() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if e.Username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	return nil
}

// EventKind enumerates outbound push event kinds.
type EventKind int

const (
	EventAutoLogin EventKind = iota
	EventLogoutNotification
	EventSessionFeedback
)

// Kind returns the MessageKind used on the wire for the event.
func (k EventKind) Kind() MessageKind {
	switch k {
	case EventAutoLogin:
		return KindAutoLogin
	case EventLogoutNotification:
		return KindLogoutNotification
	default:
		return KindSessionFeedback
	}
}

// OutboundEvent is an event targeted at a registered peer. Immutable once
// constructed; consumed exactly once by Dispatch.
type OutboundEvent struct {
	UserID   string
	Username string
	Kind     EventKind
	Payload  map[string]any
}

// outboundMessage is the wire shape of pushed events.
type outboundMessage struct {
	Type       string         `json:"type"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
	Generation uint64         `json:"generation"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// encodeEvent serializes an outbound event tagged with the session generation.
func encodeEvent(ev OutboundEvent, generation uint64) ([]byte, error) {
	return json.Marshal(outboundMessage{
		Type:       ev.Kind.Kind().String(),
		EventID:    uuid.New().String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Generation: generation,
		Payload:    ev.Payload,
	})
}

// registrationAck is sent after a successful registration.
type registrationAck struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id,omitempty"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Generation uint64 `json:"generation"`
	Timestamp  string `json:"timestamp"`
}

// errorMessage reports a protocol or validation error to the peer.
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
