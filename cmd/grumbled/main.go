// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Command grumbled runs the session/voice-routing core: a TLS control
// channel, a shared UDP voice socket, and an admin HTTP surface, all
// sharing one registry (spec.md §6, §9). Flags mirror
// original_source/src/main.rs's Args, generalized from a single-address
// FiveM deployment to the general listen/http-listen pair spec.md §6 calls
// out as CLI-provided collaborator input.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vspeak/grumbled/internal/adminhttp"
	"github.com/vspeak/grumbled/internal/certs"
	"github.com/vspeak/grumbled/internal/server"
)

// protocolVersion simulates Mumble 1.4.0, the same version
// original_source/src/main.rs encodes ("1 << 16 | 4 << 8 | 0").
const protocolVersion = 1<<16 | 4<<8 | 0

type options struct {
	listen       string
	httpListen   string
	httpUser     string
	httpPassword string
	https        bool
	httpLog      bool
	keyPath      string
	certPath     string
	welcome      string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "grumbled",
		Short: "grumbled is a Mumble-protocol voice server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.listen, "listen", "l", "0.0.0.0:64738", "listen address for TCP and UDP mumble clients")
	flags.StringVarP(&opts.httpListen, "http-listen", "p", "0.0.0.0:8080", "listen address for the admin HTTP api")
	flags.StringVar(&opts.httpUser, "http-user", "admin", "user for the admin HTTP api's basic authentication")
	flags.StringVar(&opts.httpPassword, "http-password", "", "password for the admin HTTP api's basic authentication (empty disables auth)")
	flags.BoolVar(&opts.https, "https", false, "serve the admin HTTP api over TLS, using the same certificate as the mumble server")
	flags.BoolVar(&opts.httpLog, "http-log", false, "log admin HTTP requests to stdout")
	flags.StringVar(&opts.keyPath, "key", "key.pem", "path to the TLS private key; generated at startup if absent")
	flags.StringVar(&opts.certPath, "cert", "cert.pem", "path to the TLS certificate; generated at startup if absent")
	flags.StringVar(&opts.welcome, "welcome", "Welcome to grumbled.", "welcome text sent to clients on connect")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	cert, err := certs.Load(opts.certPath, opts.keyPath)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	tcpListener, err := tls.Listen("tcp", opts.listen, tlsConfig)
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	defer tcpListener.Close()

	udpAddr, err := net.ResolveUDPAddr("udp", opts.listen)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("udp listen: %w", err)
	}
	defer udpConn.Close()

	srv := server.New(server.Config{
		Welcome:         opts.welcome,
		ProtocolVersion: protocolVersion,
	})
	srv.SetUDPConn(udpConn)

	admin, err := adminhttp.New(srv.Registry, opts.httpUser, opts.httpPassword, srv.Log)
	if err != nil {
		return fmt.Errorf("build admin http server: %w", err)
	}
	srv.SetStatusPusher(admin)

	srv.Log.Printf("tcp/udp server listening on %s", opts.listen)
	go srv.RunTCP(ctx, tcpListener)
	go srv.RunUDP(ctx, udpConn)
	go srv.RunJanitor(ctx)

	httpServer := &http.Server{
		Addr:    opts.httpListen,
		Handler: requestLogger(admin.Handler(), opts.httpLog, srv.Log),
	}
	if opts.https {
		httpServer.TLSConfig = tlsConfig
	}

	httpErr := make(chan error, 1)
	go func() {
		srv.Log.Printf("http admin server listening on %s", opts.httpListen)
		var err error
		if opts.https {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			srv.Log.Printf("http admin server: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func requestLogger(h http.Handler, enabled bool, logger *log.Logger) http.Handler {
	if !enabled {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		logger.Printf("http %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
