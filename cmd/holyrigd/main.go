// holyrigd is the CAT/transceiver-control daemon: it loads a schema and
// rig model set from the resource directory, drives one RigInstance per
// configured rig over a serial port or a rigctld connection, and serves the JSON-RPC and
// debug UDP transports (and, optionally, the local status dashboard)
// over the running Dispatcher. Structured the way a long-lived daemon's root
// main.go wires its own long-lived daemon commands (config load, then
// per-subsystem setup, then block until shutdown), generalized to
// errgroup-supervised tasks the way internal/prehook uses
// golang.org/x/sync/errgroup for its own goroutine pair.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"holyrig/cfg"
	"holyrig/internal/dispatch"
	"holyrig/internal/jsonrpc"
	"holyrig/internal/resources"
	"holyrig/internal/rig"
	"holyrig/internal/rlog"
	"holyrig/internal/subscription"
	"holyrig/internal/webui"
	"holyrig/rigcontrol/hamlib"
)

var fOptions struct {
	ConfigPath  string
	ResourceDir string
	DevProfile  string
	Verbose     bool
}

func init() {
	pflag.StringVar(&fOptions.ConfigPath, "config", defaultConfigPath(), "Path to config file")
	pflag.StringVar(&fOptions.ResourceDir, "resources", "", "Path to schema/model resource directory (overrides config and the XDG default)")
	pflag.StringVar(&fOptions.DevProfile, "dev-profile", "", "Path to a holyrig.yaml local-dev override file")
	pflag.BoolVarP(&fOptions.Verbose, "verbose", "v", false, "Enable verbose [DEBUG] logging")
}

func defaultConfigPath() string {
	return filepath.Join(resources.ConfigDir(), "config.json")
}

func main() {
	pflag.Parse()
	if fOptions.Verbose {
		rlog.SetEnabled(true)
	}

	config, err := cfg.Load(fOptions.ConfigPath, cfg.DefaultConfig)
	if err != nil {
		log.Fatalf("Unable to load/write config: %s", err)
	}
	if config.LogLevel == "debug" {
		rlog.SetEnabled(true)
	}

	resourceDir := config.ResourceDir
	if fOptions.ResourceDir != "" {
		resourceDir = fOptions.ResourceDir
	}
	if resourceDir == "" {
		resourceDir = resources.ConfigDir()
	}

	store := resources.NewStore()
	if err := store.Load(resourceDir); err != nil {
		log.Fatalf("Unable to load resources from %s: %s", resourceDir, err)
	}

	var profile resources.DevProfile
	if fOptions.DevProfile != "" {
		p, ok, err := resources.LoadDevProfile(fOptions.DevProfile)
		if err != nil {
			log.Fatalf("Unable to load dev profile %s: %s", fOptions.DevProfile, err)
		}
		if ok {
			profile = p
			if profile.Verbose {
				rlog.SetEnabled(true)
			}
			log.Printf("Dev profile loaded from %s", fOptions.DevProfile)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")
		cancel()
	}()

	updates := make(chan rig.StatusUpdate, 64)
	subs := subscription.New(config.SubscriptionQueueDepth)

	rigs := startRigs(ctx, config, store, profile, updates)
	if len(rigs) == 0 {
		log.Println("No rigs enabled; serving with an empty rig set")
	}

	dispatcher := dispatch.New(rigs, subs)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { subs.Run(ctx, updates); return nil })

	rpcServer := jsonrpc.NewServer(dispatcher)
	g.Go(func() error {
		log.Printf("JSON-RPC listening on %s (udp)", config.Listen)
		return rpcServer.Run(ctx, config.Listen)
	})

	if config.DebugListen != "" {
		debugServer := jsonrpc.NewDebugServer(dispatcher)
		g.Go(func() error {
			log.Printf("Debug interface listening on %s (udp)", config.DebugListen)
			return debugServer.Run(ctx, config.DebugListen)
		})
	}

	if config.WebUI.Enabled {
		webServer := webui.NewServer(dispatcher)
		g.Go(func() error {
			log.Printf("Status dashboard listening on http://%s", config.WebUI.Addr)
			return webServer.ListenAndServe(ctx, config.WebUI.Addr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// startRigs opens a RigInstance for every configured, dev-profile-enabled
// rig and launches its Run loop, returning the RigHandle set the
// Dispatcher routes requests against. A rig whose model fails to load
// is logged and skipped rather than aborting startup, the same
// one-bad-rig-degrades philosophy internal/resources.Store.Load applies
// to a single bad resource file.
func startRigs(ctx context.Context, config cfg.Config, store *resources.Store, profile resources.DevProfile, updates chan<- rig.StatusUpdate) map[string]*dispatch.RigHandle {
	rigs := make(map[string]*dispatch.RigHandle, len(config.Rigs))

	for id, rc := range config.Rigs {
		if !profile.Enabled(id) {
			log.Printf("Rig %s disabled by dev profile, skipping", id)
			continue
		}

		modelID := rc.Model
		if modelID == "" {
			modelID = id
		}
		mdl, ok := store.Model(modelID)
		if !ok {
			log.Printf("Rig %s: no compiled model %q found in resource directory, skipping", id, modelID)
			continue
		}
		if rc.Schema != "" && rc.Schema != mdl.SchemaKind {
			log.Printf("Rig %s: configured schema %q does not match model's declared schema %q, skipping", id, rc.Schema, mdl.SchemaKind)
			continue
		}
		sch, ok := store.Schema(mdl.SchemaKind)
		if !ok {
			log.Printf("Rig %s: schema %q referenced by model %q is missing, skipping", id, mdl.SchemaKind, modelID)
			continue
		}
		open, label, err := rigOpenFunc(rc)
		if err != nil {
			log.Printf("Rig %s: %s, skipping", id, err)
			continue
		}

		opts := rigOptions(rc)
		instance := rig.New(id, mdl, sch, open, updates, opts...)
		go instance.Run(ctx)

		rigs[id] = &dispatch.RigHandle{Rig: instance, Schema: sch, Model: mdl}
		log.Printf("Rig %s ready (%s schema=%s)", id, label, mdl.SchemaKind)
	}
	return rigs
}

// rigOpenFunc picks the rig's transport: a local serial port, or a
// running rigctld reached over TCP when RigctldAddr is set instead of
// Device.
func rigOpenFunc(rc cfg.RigConfig) (open rig.OpenFunc, label string, err error) {
	switch {
	case rc.RigctldAddr != "":
		return hamlib.Open(rc.RigctldAddr), fmt.Sprintf("rigctld=%s", rc.RigctldAddr), nil
	case rc.Device != "":
		return rig.OpenSerial(rc.Device, rc.Baud), fmt.Sprintf("device=%s", rc.Device), nil
	default:
		return nil, "", errors.New("missing device path or rigctld_addr")
	}
}

func rigOptions(rc cfg.RigConfig) []rig.Option {
	var opts []rig.Option
	if rc.PollInterval > 0 {
		opts = append(opts, rig.WithPollInterval(time.Duration(rc.PollInterval)))
	}
	if rc.InitRetries > 0 {
		opts = append(opts, rig.WithInitRetries(rc.InitRetries))
	}
	if rc.ExchangeTimeout > 0 {
		opts = append(opts, rig.WithExchangeTimeout(time.Duration(rc.ExchangeTimeout)))
	}
	if rc.MaxConsecutiveFailures > 0 {
		opts = append(opts, rig.WithMaxConsecutiveFailures(rc.MaxConsecutiveFailures))
	}
	if rc.ReconnectInterval > 0 {
		opts = append(opts, rig.WithReconnectInterval(time.Duration(rc.ReconnectInterval)))
	}
	return opts
}
