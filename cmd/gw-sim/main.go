package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"gw-resize/pkg/auth"
	"gw-resize/pkg/logging"
	"gw-resize/pkg/simulator"
)

func main() {
	addr := flag.String("addr", ":8443", "listen address")
	seedPath := flag.String("seed", "seed.yaml", "seed file with users, sizes, gateways and route tables")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for session tokens (default $GW_SIM_JWT_SECRET)")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	log := logging.New("gw-sim", *verbose)
	defer func() { _ = log.Sync() }()

	seed, err := simulator.LoadSeed(*seedPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	sim, err := simulator.New(seed, auth.NewIssuer(*jwtSecret, auth.DefaultTTL), log)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sim.Serve(ctx, simulator.ListenOptions{Addr: *addr, TLSCert: *tlsCert, TLSKey: *tlsKey}); err != nil {
		log.Fatalf("simulator: %v", err)
	}
}
