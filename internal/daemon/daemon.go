// Package daemon assembles the services that keep a captive-portal session
// alive: the reconnect controller, the connectivity prober and the local API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
	configstore "github.com/portalkeep/portalkeep/internal/config/store"
	"github.com/portalkeep/portalkeep/internal/eventbus"
	"github.com/portalkeep/portalkeep/internal/history"
	"github.com/portalkeep/portalkeep/internal/portal"
	"github.com/portalkeep/portalkeep/internal/probe"
	"github.com/portalkeep/portalkeep/internal/reconnect"
	daemonruntime "github.com/portalkeep/portalkeep/internal/runtime"
	"github.com/portalkeep/portalkeep/internal/server"
)

const (
	// serviceOpTimeout bounds context deadlines for service lifecycle
	// operations during graceful shutdown.
	serviceOpTimeout = 5 * time.Second

	// configWatchInterval is the polling fallback period for detecting
	// external edits of the configuration file.
	configWatchInterval = 2 * time.Second

	// historyRetention is how long recorded login attempts are kept.
	historyRetention = 90 * 24 * time.Hour
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Store *configstore.Store
	Paths config.Paths
}

// Daemon represents the main daemon process.
type Daemon struct {
	store        *configstore.Store
	paths        config.Paths
	eventBus     *eventbus.Bus
	controller   *reconnect.Controller
	apiServer    *server.APIServer
	historyStore *history.Store
	serviceHost  *daemonruntime.ServiceHost
	lifecycle    *daemonruntime.Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errMu  sync.Mutex
	runErr error

	configMu     sync.Mutex
	configCancel func()
}

// New creates a new daemon instance bound to the provided configuration store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	bus := eventbus.New()

	historyStore, err := history.Open(context.Background(), opts.Paths.HistoryDB)
	if err != nil {
		// A broken history database should not keep the connection down.
		log.Printf("[Daemon] history store unavailable, attempts will not be persisted: %v", err)
		historyStore = nil
	}

	controllerOpts := []reconnect.Option{}
	serverOpts := []server.Option{}
	if historyStore != nil {
		controllerOpts = append(controllerOpts, reconnect.WithRecorder(historyStore))
		serverOpts = append(serverOpts, server.WithHistory(historyStore))
	}

	controller := reconnect.New(bus, opts.Store, portal.New(), controllerOpts...)
	prober := probe.New(bus, opts.Store.Current)
	apiServer := server.New(opts.Paths.Socket, controller, opts.Store, bus, serverOpts...)

	host := daemonruntime.NewServiceHost()
	if err := host.Register("reconnect", func(ctx context.Context) (daemonruntime.Service, error) {
		return controller, nil
	}); err != nil {
		return nil, err
	}
	if err := host.Register("prober", func(ctx context.Context) (daemonruntime.Service, error) {
		return prober, nil
	}); err != nil {
		return nil, err
	}
	if err := host.Register("api_server", func(ctx context.Context) (daemonruntime.Service, error) {
		return apiServer, nil
	}); err != nil {
		return nil, err
	}

	d := &Daemon{
		store:        opts.Store,
		paths:        opts.Paths,
		eventBus:     bus,
		controller:   controller,
		apiServer:    apiServer,
		historyStore: historyStore,
		serviceHost:  host,
		lifecycle:    daemonruntime.NewLifecycle(),
	}

	apiServer.SetShutdownFunc(func(ctx context.Context) error {
		go func() {
			if err := d.Shutdown(); err != nil {
				log.Printf("[Daemon] shutdown via API returned error: %v", err)
			}
		}()
		return nil
	})

	return d, nil
}

// Start runs the daemon until Shutdown is called or a service fails.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.paths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.paths.Lock)

	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err := d.serviceHost.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start services: %w", err)
	}
	d.watchHostErrors()
	if err := d.startConfigWatcher(); err != nil {
		log.Printf("[Daemon] config watcher error: %v", err)
	}
	d.watchConnectivity()
	d.pruneHistory()

	<-d.lifecycle.Done()

	if d.cancel != nil {
		d.cancel()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "daemon: service shutdown error: %v\n", err)
		d.setRunError(err)
	}
	cancel()
	d.wg.Wait()

	if d.historyStore != nil {
		if err := d.historyStore.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "daemon: history close error: %v\n", err)
		}
	}

	return d.getRunError()
}

// Shutdown signals the daemon to stop.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()

	d.configMu.Lock()
	cancelConfig := d.configCancel
	d.configCancel = nil
	d.configMu.Unlock()
	if cancelConfig != nil {
		cancelConfig()
	}

	if d.cancel != nil {
		d.cancel()
	}
	if d.eventBus != nil {
		d.eventBus.Shutdown()
	}
	return nil
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for err := range d.serviceHost.Errors() {
			if err == nil {
				continue
			}
			d.setRunError(err)
			fmt.Fprintf(os.Stderr, "%v\n", err)
			d.lifecycle.Shutdown()
			if d.cancel != nil {
				d.cancel()
			}
		}
	}()
}

// startConfigWatcher reacts to external edits of the configuration file. The
// store reloads the snapshot; the daemon announces it so the controller and
// event subscribers pick up the new settings.
func (d *Daemon) startConfigWatcher() error {
	cancel, err := d.serviceHost.WatchConfig(d.store, configWatchInterval, d.handleConfigEvent)
	if err != nil {
		return err
	}
	d.configMu.Lock()
	d.configCancel = cancel
	d.configMu.Unlock()
	return nil
}

// watchConnectivity logs reachability transitions so the daemon log tells
// the outage story even with no event-stream client attached.
func (d *Daemon) watchConnectivity() {
	sub := eventbus.SubscribeTo(d.eventBus, eventbus.Probe.Status,
		eventbus.WithSubscriptionName("daemon.connectivity"))

	var last *bool
	d.wg.Add(1)
	go eventbus.Consume(d.ctx, sub, &d.wg, func(ev eventbus.ProbeStatusEvent) {
		if last != nil && *last == ev.Reachable {
			return
		}
		reachable := ev.Reachable
		last = &reachable
		if ev.Reachable {
			log.Printf("[Daemon] network reachable via %s", ev.ProbeURL)
		} else {
			log.Printf("[Daemon] network unreachable via %s", ev.ProbeURL)
		}
	})
}

// pruneHistory trims attempts that fell out of the retention window.
func (d *Daemon) pruneHistory() {
	if d.historyStore == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, serviceOpTimeout)
		defer cancel()
		removed, err := d.historyStore.Prune(ctx, historyRetention)
		if err != nil {
			log.Printf("[Daemon] history prune: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("[Daemon] pruned %d old login attempts", removed)
		}
	}()
}

func (d *Daemon) handleConfigEvent(event configstore.ChangeEvent) {
	if event.Err != nil {
		log.Printf("[Daemon] configuration change rejected: %v", event.Err)
		return
	}
	if event.Config == nil {
		return
	}

	log.Printf("[Daemon] configuration reloaded from %s", d.store.Path())
	eventbus.Publish(d.ctx, d.eventBus, eventbus.Config.Reloaded, eventbus.SourceConfigStore,
		eventbus.ConfigReloadedEvent{Path: d.store.Path(), External: true})
}

func (d *Daemon) setRunError(err error) {
	d.errMu.Lock()
	if d.runErr == nil {
		d.runErr = err
	}
	d.errMu.Unlock()
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}
