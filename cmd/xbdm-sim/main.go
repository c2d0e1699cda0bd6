// Command xbdm-sim runs a simulated console that speaks the debug monitor
// protocol, for trying the loader without hardware.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"xbdm-loader/logging"
	"xbdm-loader/registry"
	"xbdm-loader/server"
)

func main() {
	var (
		listen    = pflag.String("listen", ":730", "address to listen on")
		advertise = pflag.String("advertise", "", "address published in etcd (default: 127.0.0.1 with the listen port)")
		name      = pflag.String("name", "xbdm-sim", "console debug name")
		files     = pflag.StringArray("file", nil, `simulated file as path[=size], e.g. 'Hdd:\plugin.xex=65536' (repeatable)`)
		endpoints = pflag.StringSlice("etcd", nil, "etcd endpoints to publish the console in")
		logLevel  = pflag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	)
	pflag.Parse()

	logger := logging.NewWithComponent(logging.Config{Level: *logLevel, Pretty: true, Output: os.Stderr}, "xbdm-sim")

	svr := server.NewServer(*name, server.WithLogger(logger))
	for _, entry := range *files {
		path, size, err := parseFile(entry)
		if err != nil {
			logger.Fatal().Err(err).Msg("bad --file")
		}
		svr.AddFile(path, size)
		logger.Debug().Str("path", path).Int64("size", size).Msg("file added")
	}

	var reg registry.Registry
	if len(*endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(*endpoints, 5*time.Second, logging.NewZap(*logLevel))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to etcd")
		}
		defer etcd.Close()
		reg = etcd
	}

	addr := *advertise
	if addr == "" {
		_, port, err := net.SplitHostPort(*listen)
		if err != nil {
			logger.Fatal().Err(err).Msg("bad --listen")
		}
		addr = net.JoinHostPort("127.0.0.1", port)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("tcp", *listen, addr, reg) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("simulator stopped")
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if err := svr.Shutdown(5 * time.Second); err != nil {
			logger.Error().Err(err).Msg("shutdown incomplete")
		}
	}
}

// parseFile splits "path=size". The size defaults to 64 KiB.
func parseFile(entry string) (string, int64, error) {
	path, rawSize, found := strings.Cut(entry, "=")
	if path == "" {
		return "", 0, fmt.Errorf("empty path in %q", entry)
	}
	if !found {
		return path, 64 << 10, nil
	}
	size, err := strconv.ParseInt(rawSize, 0, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("bad size in %q", entry)
	}
	return path, size, nil
}
