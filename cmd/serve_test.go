package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestWaitShutdown_DrainsInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln) //nolint:errcheck

	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close() //nolint:errcheck
		done <- result{status: resp.StatusCode}
	}()

	// Shutdown begins while the request is mid-handler. The already-canceled
	// context stands in for the fired signal context.
	<-entered
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		waitShutdown(ctx, srv)
		close(shutdownDone)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status, "in-flight request must complete during shutdown")
	<-shutdownDone
}
