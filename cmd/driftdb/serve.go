/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"driftdb/internal/config"
	"driftdb/internal/engine"
	"driftdb/internal/logging"
	"driftdb/internal/replication"
	"driftdb/internal/server"
)

var (
	flagEncrypt   bool
	flagAdvertise bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the DriftDB server",
		Long: `Run the DriftDB node: initialise the engine from the persisted layout,
start replication according to the configured role, and serve the REST and
WebSocket surface.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&flagEncrypt, "encrypt", false,
		"encrypt stored values (passphrase from DRIFTDB_ENCRYPTION_PASSPHRASE or prompt)")
	serveCmd.Flags().BoolVar(&flagAdvertise, "advertise", false,
		"advertise this node over mDNS on the local network")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.NewLogger("main")

	eng := engine.New(cfg)

	if flagEncrypt {
		passphrase := os.Getenv("DRIFTDB_ENCRYPTION_PASSPHRASE")
		if passphrase == "" {
			passphrase, err = promptPassphrase()
			if err != nil {
				return err
			}
		}
		enc, err := engine.NewEncryptionInterceptor(passphrase, nil)
		if err != nil {
			return err
		}
		eng.Use(enc)
		log.Info("value encryption enabled")
	}

	if err := eng.Init(); err != nil {
		return err
	}
	defer eng.Close()

	repl := replication.New(eng, replication.Options{
		Role:      replication.Role(cfg.Role),
		NodeID:    cfg.NodeID,
		Followers: cfg.Followers,
		Heartbeat: cfg.SyncInterval(),
	})
	repl.Start()
	defer repl.Stop()

	if flagAdvertise {
		port := listenPort(cfg)
		adv, err := replication.Advertise(repl.NodeID(), repl.Role(), port)
		if err != nil {
			log.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Shutdown()
		}
	}

	srv := server.New(cfg, eng, repl)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func promptPassphrase() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("encryption enabled but no passphrase: set DRIFTDB_ENCRYPTION_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, "Encryption passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(raw), nil
}

func listenPort(cfg *config.Config) int {
	_, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return 8844
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 8844
	}
	return port
}
