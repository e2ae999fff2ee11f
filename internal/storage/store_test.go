package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Run("should split bucket and key", func(t *testing.T) {
		// Act
		bucket, key, err := ParseURI("s3://results/chunks/job-1/000.mp3")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "results", bucket)
		assert.Equal(t, "chunks/job-1/000.mp3", key)
	})

	tests := []struct {
		name string
		uri  string
	}{
		{name: "wrong scheme", uri: "https://results/key"},
		{name: "missing key", uri: "s3://results/"},
		{name: "missing bucket", uri: "s3:///key"},
		{name: "empty", uri: ""},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			_, _, err := ParseURI(tt.uri)

			assert.Error(t, err)
		})
	}
}
