// Package popup drives interactive authorization handshakes: it opens an
// authorize page for the user and waits for the backend to hand a token back.
package popup

import (
	"context"
	"sync"
)

// Features positions and sizes the popup window.
type Features struct {
	Width  int
	Height int
	Top    int
	Left   int
}

// Centered returns features for a width x height window centered on a screen
// of the given size. A zero screen leaves the window at the origin.
func Centered(screenWidth, screenHeight, width, height int) Features {
	f := Features{Width: width, Height: height}
	if screenWidth > width {
		f.Left = (screenWidth - width) / 2
	}
	if screenHeight > height {
		f.Top = (screenHeight - height) / 2
	}
	return f
}

// Window is an opened popup.
type Window interface {
	Close() error
}

// Opener opens an authorize URL for the user.
type Opener interface {
	Open(ctx context.Context, url string, f Features) (Window, error)
}

// Listener registers a one-shot receiver for the token message.
// Listen must be called before the popup is opened.
type Listener interface {
	Listen(ctx context.Context) (*Handshake, error)
}

// Handshake is a registered, single-use token receiver.
type Handshake struct {
	// ReturnURL is where the backend sends the user after authorization.
	ReturnURL string
	// CallbackMethod tells the backend how to deliver the token ("fragment", "postMessage").
	CallbackMethod string

	messages chan string
	once     sync.Once
	stopOnce sync.Once
	stop     func()
	done     chan struct{}
}

// NewHandshake creates a handshake. stop is called once by Stop.
func NewHandshake(returnURL, callbackMethod string, stop func()) *Handshake {
	return &Handshake{
		ReturnURL:      returnURL,
		CallbackMethod: callbackMethod,
		messages:       make(chan string, 1),
		stop:           stop,
		done:           make(chan struct{}),
	}
}

// Messages yields the token at most once. It is closed without a value when
// the user denies access.
func (h *Handshake) Messages() <-chan string {
	return h.messages
}

// Deliver hands token to the waiting side. Only the first delivery counts; an
// empty token is treated as a denial.
func (h *Handshake) Deliver(token string) bool {
	delivered := false
	h.once.Do(func() {
		if token != "" {
			h.messages <- token
		}
		close(h.messages)
		delivered = true
	})
	return delivered
}

// Stop unregisters the receiver. It is safe to call more than once.
func (h *Handshake) Stop() {
	h.Deliver("")
	h.stopOnce.Do(func() {
		if h.stop != nil {
			h.stop()
		}
		close(h.done)
	})
}

// Done is closed once Stop has run.
func (h *Handshake) Done() <-chan struct{} {
	return h.done
}
