package plugin

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportSendAndRead(t *testing.T) {
	var buf bytes.Buffer
	sendSide := NewTransport(&buf, &buf)

	id, err := sendSide.Send(MsgDispatchEvent, Event{Name: "player_joined", Data: "Steve"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	msg, err := sendSide.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, MsgDispatchEvent, msg.Type)
	assert.Equal(t, int64(1), msg.ID)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, "player_joined", ev.Name)
}

func TestTransportReadEOF(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)
	_, err := tr.ReadMessage()
	assert.Error(t, err)
}

func TestTransportIDsIncrement(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)
	id1, _ := tr.Send(MsgLoad, struct{}{})
	id2, _ := tr.Send(MsgLoad, struct{}{})
	assert.Equal(t, id1+1, id2)
}
