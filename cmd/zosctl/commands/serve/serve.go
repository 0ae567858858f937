/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package serve implements "zosctl serve": it boots a zeroos kernel
// in-process and blocks until interrupted.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
	mobysignal "github.com/moby/sys/signal"
	"github.com/urfave/cli/v2"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/internal/axiom"
	"github.com/zeroos/kernel/platform/baremetal"
	"github.com/zeroos/kernel/platform/memhal"
	"github.com/zeroos/kernel/services/bootstrap"
	"github.com/zeroos/kernel/services/initsvc"
	"github.com/zeroos/kernel/services/vfs"
	"github.com/zeroos/kernel/supervisor"
)

// Command boots the fixed service order and serves until SIGINT/SIGTERM.
var Command = &cli.Command{
	Name:  "serve",
	Usage: "boot the kernel and fixed service order, then serve until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "hal",
			Usage: "platform HAL to boot: \"memhal\" (in-memory) or \"baremetal\" (disk-backed)",
			Value: "memhal",
		},
		&cli.StringFlag{
			Name:  "disk",
			Usage: "backing device path for --hal=baremetal",
			Value: "zeroos.img",
		},
		&cli.StringFlag{
			Name:  "binary-dir",
			Usage: "directory of named <service>.wasm binaries for --hal=baremetal",
			Value: "./bin",
		},
		&cli.Uint64Flag{
			Name:  "quota-bytes",
			Usage: "default per-process VFS storage quota, in bytes",
			Value: 64 << 20,
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "serve Prometheus metrics over HTTP",
		},
		&cli.StringFlag{
			Name:  "metrics-address",
			Usage: "address to serve --metrics on",
			Value: "127.0.0.1:9090",
		},
	},
	Action: func(cliContext *cli.Context) error {
		ctx, cancel := context.WithCancel(cliContext.Context)
		defer cancel()

		h, closeHAL, err := newHAL(ctx, cliContext)
		if err != nil {
			return err
		}
		defer closeHAL()

		gw := axiom.NewGateway(nil, nil)
		if cliContext.Bool("metrics") {
			gw.SetMetrics(axiom.NewMetrics())
			serveMetrics(ctx, cliContext.String("metrics-address"))
		}

		k := kernel.New(h, gw)
		sup := supervisor.New(k, h)

		sup.Spawn(ctx, initsvc.New(k))
		if err := waitForInit(ctx, k); err != nil {
			return fmt.Errorf("zosctl: init did not start: %w", err)
		}
		go sup.Run(ctx)

		cfg := bootstrap.Config{DefaultQuota: vfs.StorageQuota{MaxBytes: cliContext.Uint64("quota-bytes")}}
		booted, err := bootstrap.Boot(ctx, k, h, sup, cfg)
		if err != nil {
			return fmt.Errorf("zosctl: boot failed: %w", err)
		}
		log.G(ctx).WithFields(log.Fields{
			"permissions": booted.Permission,
			"vfs":         booted.VFS,
			"keystore":    booted.Keystore,
			"time":        booted.Time,
		}).Info("zosctl: boot order complete, serving")

		waitForShutdownSignal(ctx)
		printInspection(k, gw)
		return nil
	},
}

func newHAL(ctx context.Context, cliContext *cli.Context) (hal.HAL, func(), error) {
	switch name := cliContext.String("hal"); name {
	case "memhal", "":
		h := memhal.New()
		return h, func() {}, nil
	case "baremetal":
		h, err := baremetal.New(baremetal.Config{
			DevicePath:    cliContext.String("disk"),
			BinaryDir:     cliContext.String("binary-dir"),
			WatchBinaries: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("zosctl: open baremetal HAL: %w", err)
		}
		return h, func() {
			if err := h.Close(); err != nil {
				log.G(ctx).WithError(err).Warn("zosctl: closing baremetal HAL")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("zosctl: unknown --hal %q (want memhal or baremetal)", name)
	}
}

func waitForInit(ctx context.Context, k *kernel.Kernel) error {
	for {
		if _, ok := k.Process(process.Init); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM, logging whichever
// one fired by name the same way moby/sys/signal resolves container
// stop-signal flags to a human-readable name.
func waitForShutdownSignal(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, mobysignal.SIGINT, mobysignal.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		log.G(ctx).Infof("zosctl: received %s, shutting down", sig)
	case <-ctx.Done():
	}
}

// serveMetrics starts an HTTP server exposing the go-metrics default
// registry and stops it when ctx is cancelled. Listen errors after
// startup are logged, not returned, since serve's main job is the kernel
// loop, not this sidecar endpoint.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.G(ctx).WithError(err).Error("zosctl: metrics server exited")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.G(ctx).Infof("zosctl: metrics listening on %s", addr)
}

// printInspection prints the process table and a tail of the commit log on
// the way out, the CLI's only window into kernel state since zosctl owns
// its kernel instance rather than dialing a daemon.
func printInspection(k *kernel.Kernel, gw *axiom.Gateway) {
	fmt.Fprintln(os.Stdout, "PID\tNAME\tSTATE")
	for _, p := range k.Processes() {
		fmt.Fprintf(os.Stdout, "%d\t%s\t%s\n", p.PID, p.Name, p.State)
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintf(os.Stdout, "commits sealed: %d\n", gw.Commits.Len())
	const tailLen = 10
	all := gw.Commits.All()
	if len(all) > tailLen {
		all = all[len(all)-tailLen:]
	}
	for _, c := range all {
		fmt.Fprintf(os.Stdout, "  seq=%d kind=%s id=%s\n", c.Seq, c.Kind, c.ID)
	}
}
