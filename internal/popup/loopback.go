package popup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/h0rv/bugbox/internal/logger"
)

// callbackPage reads the token from the URL fragment and posts it back.
// The fragment never reaches the server on its own.
const callbackPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Bugbox</title></head>
<body>
<p id="status">Completing authorization...</p>
<script>
(function () {
	var params = new URLSearchParams(window.location.hash.replace(/^#/, ""));
	var body = new URLSearchParams();
	body.set("state", new URLSearchParams(window.location.search).get("state") || "");
	body.set("token", params.get("token") || "");
	fetch("/token", { method: "POST", body: body }).then(function () {
		document.getElementById("status").textContent = "You can close this window.";
		window.close();
	});
})();
</script>
</body>
</html>
`

// Loopback receives the token on a local HTTP server. The backend redirects the
// browser to the callback page, which forwards the token fragment.
type Loopback struct {
	// Addr is the listen address; defaults to 127.0.0.1:0.
	Addr string
}

// NewLoopback creates a loopback listener on a random local port.
func NewLoopback() *Loopback {
	return &Loopback{Addr: "127.0.0.1:0"}
}

// Listen starts the server and returns the registered handshake. The server is
// shut down by Handshake.Stop or when ctx is done.
func (l *Loopback) Listen(ctx context.Context) (*Handshake, error) {
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}

	state := uuid.NewString()
	srv := &http.Server{ReadHeaderTimeout: 10 * time.Second}

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Debug().Err(err).Msg("callback listener shutdown")
		}
	}

	returnURL := fmt.Sprintf("http://%s/callback?state=%s", ln.Addr().String(), state)
	hs := NewHandshake(returnURL, "fragment", stop)
	srv.Handler = l.router(state, hs)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("callback listener failed")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			hs.Stop()
		case <-hs.Done():
		}
	}()

	logger.Debug().Str("return_url", returnURL).Msg("callback listener started")
	return hs, nil
}

func (l *Loopback) router(state string, hs *Handshake) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/callback", func(c *gin.Context) {
		if c.Query("state") != state {
			c.String(http.StatusBadRequest, "invalid state")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage))
	})

	r.POST("/token", func(c *gin.Context) {
		if c.PostForm("state") != state {
			c.String(http.StatusBadRequest, "invalid state")
			return
		}
		if !hs.Deliver(c.PostForm("token")) {
			c.String(http.StatusConflict, "already completed")
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
