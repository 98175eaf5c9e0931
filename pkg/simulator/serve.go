package simulator

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"
)

// ListenOptions configures Serve. TLS is enabled when both cert and key are set.
type ListenOptions struct {
	Addr    string
	TLSCert string
	TLSKey  string
}

// Serve runs the simulator until ctx is done.
func (s *Server) Serve(ctx context.Context, opts ListenOptions) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	useTLS := opts.TLSCert != "" && opts.TLSKey != ""
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	errCh := make(chan error, 1)
	go func() {
		if useTLS {
			errCh <- srv.ListenAndServeTLS(opts.TLSCert, opts.TLSKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infof("simulator listening on %s tls=%t", opts.Addr, useTLS)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
