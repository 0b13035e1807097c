package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meta struct {
	ConfigID    string    `json:"config_id"`
	Factory     string    `json:"factory"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON[meta]{}
	in := meta{ConfigID: "abc", Factory: "command", SubmittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	b, err := c.Encode(in)
	require.NoError(t, err)
	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONDecodeError(t *testing.T) {
	_, err := JSON[meta]{}.Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestJSONPlainString(t *testing.T) {
	c := JSON[string]{}
	b, err := c.Encode("mock_id")
	require.NoError(t, err)
	s, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "mock_id", s)
}
