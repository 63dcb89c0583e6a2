package popup

import (
	"context"
	"fmt"

	"github.com/h0rv/bugbox/internal/logger"
	"github.com/pkg/browser"
)

// BrowserOpener opens the authorize page in the system browser.
type BrowserOpener struct {
	// open is swapped in tests.
	open func(url string) error
}

// NewBrowserOpener returns an opener backed by the system browser.
func NewBrowserOpener() *BrowserOpener {
	return &BrowserOpener{open: browser.OpenURL}
}

// Open launches url. Window geometry cannot be applied to an external browser,
// so f is only logged.
func (o *BrowserOpener) Open(ctx context.Context, url string, f Features) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug().
		Str("url", url).
		Int("width", f.Width).
		Int("height", f.Height).
		Msg("opening authorize page")

	if err := o.open(url); err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	return browserWindow{}, nil
}

// browserWindow is a tab in the user's browser. It cannot be closed from here.
type browserWindow struct{}

func (browserWindow) Close() error { return nil }
