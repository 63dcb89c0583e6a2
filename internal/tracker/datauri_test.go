package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantType  string
		wantData  []byte
		wantError bool
	}{
		{
			name:     "base64 png",
			uri:      "data:image/png;base64,AAA=",
			wantType: "image/png",
			wantData: []byte{0, 0},
		},
		{
			name:     "percent encoded text",
			uri:      "data:text/plain,hello%20world",
			wantType: "text/plain",
			wantData: []byte("hello world"),
		},
		{
			name:     "default media type",
			uri:      "data:,x",
			wantType: "text/plain;charset=US-ASCII",
			wantData: []byte("x"),
		},
		{name: "not a data uri", uri: "https://x.test/a.png", wantError: true},
		{name: "no payload", uri: "data:image/png;base64", wantError: true},
		{name: "bad base64", uri: "data:image/png;base64,!!!", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mediaType, data, err := DecodeDataURI(tt.uri)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, mediaType)
			assert.Equal(t, tt.wantData, data)
		})
	}
}

func TestEncodeDataURI_RoundTrip(t *testing.T) {
	uri := EncodeDataURI("image/png", []byte{0x89, 'P', 'N', 'G'})

	mediaType, data, err := DecodeDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestReadDataURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	uri, err := ReadDataURI(path)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AQID", uri)

	_, err = ReadDataURI(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
