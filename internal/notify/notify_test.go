package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not-a-service://nowhere")
	assert.Error(t, err)
}

func TestSend_Logger(t *testing.T) {
	n, err := New("logger://")
	require.NoError(t, err)
	assert.NoError(t, n.Send("training finished"))
}
