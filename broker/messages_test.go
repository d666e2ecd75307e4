// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKindRoundTrip(t *testing.T) {
	kinds := []MessageKind{
		KindClientRegister,
		KindSessionFeedback,
		KindLogoutFeedback,
		KindAutoLogin,
		KindLogoutNotification,
		KindRegistrationSuccess,
		KindError,
	}
	for _, k := range kinds {
		assert.Equal(t, k, ParseKind(k.String()), "kind %v", k)
	}

	assert.Equal(t, KindUnknown, ParseKind("something_else"))
	assert.Equal(t, KindUnknown, ParseKind(""))
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{"type":"c_client_register","user_id":"u1","username":"alice","node_id":"n1","payload":{"k":"v"}}`)
	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "c_client_register", env.Type)
	assert.Equal(t, "u1", env.UserID)
	assert.Equal(t, "n1", env.NodeID)
	assert.Equal(t, "v", env.Payload["k"])
}

func TestParseEnvelopeErrors(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseEnvelope([]byte(`{"user_id":"u1"}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateRegistration(t *testing.T) {
	env := &Envelope{Type: "c_client_register", UserID: "u1", Username: "alice"}
	assert.NoError(t, env.ValidateRegistration())

	env = &Envelope{Type: "c_client_register", Username: "alice"}
	assert.ErrorIs(t, env.ValidateRegistration(), ErrValidation)

	env = &Envelope{Type: "c_client_register", UserID: "u1"}
	assert.ErrorIs(t, env.ValidateRegistration(), ErrValidation)
}

func TestEnvelopeIdentity(t *testing.T) {
	env := &Envelope{
		Type:      "c_client_register",
		ClientID:  "c1",
		UserID:    "u1",
		Username:  "alice",
		NodeID:    "n1",
		DomainID:  "d1",
		ClusterID: "cl1",
		ChannelID: "ch1",
	}
	identity := env.Identity()
	assert.Equal(t, "c1", identity.ClientID)
	assert.Equal(t, IdentityKey{UserID: "u1", Username: "alice"}, identity.Key())
	assert.Equal(t, "d1", identity.DomainID)
	assert.Equal(t, "ch1", identity.ChannelID)
}

func TestEventKindWireTypes(t *testing.T) {
	assert.Equal(t, KindAutoLogin, EventAutoLogin.Kind())
	assert.Equal(t, KindLogoutNotification, EventLogoutNotification.Kind())
	assert.Equal(t, KindSessionFeedback, EventSessionFeedback.Kind())
}

func TestEncodeEvent(t *testing.T) {
	data, err := encodeEvent(OutboundEvent{
		UserID:   "u1",
		Username: "alice",
		Kind:     EventLogoutNotification,
		Payload:  map[string]any{"action": "user_logout"},
	}, 7)
	require.NoError(t, err)

	var msg outboundMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "logout_notification", msg.Type)
	assert.Equal(t, uint64(7), msg.Generation)
	assert.NotEmpty(t, msg.EventID)
	assert.Equal(t, "user_logout", msg.Payload["action"])

	// Event ids are unique per encode.
	data2, err := encodeEvent(OutboundEvent{Kind: EventLogoutNotification}, 7)
	require.NoError(t, err)
	var msg2 outboundMessage
	require.NoError(t, json.Unmarshal(data2, &msg2))
	assert.NotEqual(t, msg.EventID, msg2.EventID)
}
