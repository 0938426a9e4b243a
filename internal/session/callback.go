package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"focuslist/backend"
)

const (
	// CallbackTimeout bounds how long login waits for the browser
	CallbackTimeout = 5 * time.Minute

	callbackStartPort   = 8085
	callbackMaxAttempts = 5
	callbackPath        = "/callback"
)

// ErrCallbackTimeout is returned when no redirect arrives in time
var ErrCallbackTimeout = errors.New("oauth callback timed out")

// CallbackServer receives the authorization code on a loopback redirect
type CallbackServer struct {
	listener net.Listener
	port     int
	state    string
	server   *http.Server

	codeCh chan string
	errCh  chan error
}

// ListenCallback binds the first free port in localhost:8085-8089 and
// starts serving the redirect endpoint
func ListenCallback(state string) (*CallbackServer, error) {
	return listenCallback(callbackStartPort, callbackMaxAttempts, state)
}

func listenCallback(startPort, attempts int, state string) (*CallbackServer, error) {
	var listener net.Listener
	var err error
	for i := 0; i < attempts; i++ {
		listener, err = net.Listen("tcp", fmt.Sprintf("localhost:%d", startPort+i))
		if err == nil {
			break
		}
	}
	if listener == nil {
		return nil, fmt.Errorf("could not bind a local port for the oauth callback: %w", err)
	}

	s := &CallbackServer{
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		state:    state,
		codeCh:   make(chan string, 1),
		errCh:    make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handle)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.report(err)
		}
	}()
	return s, nil
}

// RedirectURL is the URL to register as the OAuth redirect
func (s *CallbackServer) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, callbackPath)
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		http.Error(w, "Sign-in was cancelled", http.StatusBadRequest)
		s.report(&backend.AuthError{Backend: string(ProviderGoogle), Reason: reason})
		return
	}
	if q.Get("state") != s.state {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		s.report(&backend.AuthError{Backend: string(ProviderGoogle), Reason: "state mismatch in callback"})
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "No code in callback", http.StatusBadRequest)
		s.report(&backend.AuthError{Backend: string(ProviderGoogle), Reason: "no code in callback"})
		return
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, "<html><body><h1>Signed in</h1><p>You may close this window.</p></body></html>")
	select {
	case s.codeCh <- code:
	default:
	}
}

func (s *CallbackServer) report(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

// Wait blocks until the code arrives, the callback fails, timeout elapses
// or ctx is cancelled
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-s.codeCh:
		return code, nil
	case err := <-s.errCh:
		return "", err
	case <-timer.C:
		return "", ErrCallbackTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close shuts the server down
func (s *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
