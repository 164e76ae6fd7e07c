package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteObject_KeepsObjectWhenSendFails(t *testing.T) {
	a := New("ws://127.0.0.1:1/ws", Options{})
	a.mirror.Reset(testInit())

	err := a.DeleteObject("obj_1")
	require.ErrorIs(t, err, ErrNotConnected)

	_, ok := a.Object("obj_1")
	assert.True(t, ok, "a failed delete leaves the mirror untouched")
}
