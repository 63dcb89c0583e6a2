package trello

import (
	"testing"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaURL_RoundTrip(t *testing.T) {
	m := domain.Meta{
		Version:  domain.MetaVersion,
		URL:      "https://shop.example.com/cart",
		Browser:  "Firefox",
		OS:       "Linux",
		Viewport: domain.Viewport{Width: 1280, Height: 720},
	}

	link, err := encodeMetaURL(m.URL, m)
	require.NoError(t, err)

	got, err := decodeMetaURL(link)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestMetaURL_DropsScreenshot(t *testing.T) {
	link, err := encodeMetaURL("https://x.test", domain.Meta{URL: "https://x.test", Screenshot: "data:image/png;base64,AAA="})
	require.NoError(t, err)

	got, err := decodeMetaURL(link)
	require.NoError(t, err)
	assert.Empty(t, got.Screenshot)
}

func TestDecodeMetaURL_Malformed(t *testing.T) {
	tests := map[string]string{
		"no fragment":   "https://x.test/page",
		"bad base64":    "https://x.test#issue-%%%",
		"bad json":      "https://x.test#issue-bm90IGpzb24=",
		"future schema": "https://x.test#issue-eyJ2Ijo5OX0=",
	}

	for name, u := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeMetaURL(u)
			assert.ErrorIs(t, err, domain.ErrMalformedMeta)
			assert.True(t, decodeMetaSoft("card", u).IsZero())
		})
	}
}
