// Package orchestrator wires the State Store, Lamport clock, dispatcher,
// client/worker endpoints, and replication engine into the two roles a
// node can run: primary (serving clients and workers) or backup (shadowing
// the primary over multicast until it goes silent).
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"distask/internal/authtoken"
	"distask/internal/clientsvc"
	"distask/internal/clock"
	"distask/internal/config"
	"distask/internal/dispatch"
	"distask/internal/metrics"
	"distask/internal/replication"
	"distask/internal/store"
	"distask/internal/workersvc"
)

// Orchestrator is one node of the primary/backup pair.
type Orchestrator struct {
	cfg    config.Config
	backup bool
	log    *logrus.Entry

	store   *store.Store
	clock   *clock.Lamport
	disp    *dispatch.RoundRobin
	auth    *authtoken.Store
	metrics *metrics.Registry
}

// New builds an orchestrator node. backup selects the starting role; per
// spec there is no re-promotion path, so a node that fails over to primary
// never steps back down to backup for the lifetime of the process.
func New(cfg config.Config, backup bool, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		backup:  backup,
		log:     log.WithField("component", "orchestrator"),
		store:   store.New(),
		clock:   clock.New(),
		disp:    dispatch.New(),
		auth:    authtoken.New(cfg.Users, cfg.SecretKey),
		metrics: metrics.New(),
	}
}

// Run blocks until stopCh closes. If started as backup, it shadows the
// primary over multicast and transparently becomes primary on failover
// detection, without ever returning control in between.
func (o *Orchestrator) Run(stopCh <-chan struct{}) error {
	if o.backup {
		o.log.Info("starting in backup role")
		promote, err := o.runBackup(stopCh)
		if err != nil {
			return err
		}
		if !promote {
			return nil
		}
		o.log.Warn("primary presumed dead, promoting to primary")
	} else {
		o.log.Info("starting in primary role")
	}
	return o.runPrimary(stopCh)
}

// runBackup shadows the primary until stopCh closes (returns false, nil)
// or the primary goes silent past PrimaryTimeout (returns true, nil).
func (o *Orchestrator) runBackup(stopCh <-chan struct{}) (promote bool, err error) {
	recv := replication.NewReceiver(o.cfg.MulticastGroup, o.cfg.MulticastPort, o.cfg.PrimaryTimeout, o.store, o.clock, o.log)
	return recv.Run(stopCh)
}

// runPrimary starts every primary-side subsystem and blocks until stopCh
// closes: the client endpoint, worker ingress, liveness monitor, dispatch
// loop, multicast sender, and (if configured) the admin metrics server.
func (o *Orchestrator) runPrimary(stopCh <-chan struct{}) error {
	clientSrv := clientsvc.New(o.cfg.ClientAddr, o.auth, o.store, o.clock, o.log)
	if _, err := clientSrv.Listen(); err != nil {
		return fmt.Errorf("client endpoint listen: %w", err)
	}
	go func() {
		if err := clientSrv.Serve(stopCh); err != nil {
			o.log.WithError(err).Error("client endpoint stopped")
		}
	}()

	ingress := workersvc.NewIngress(o.cfg.WorkerAddr, o.store, o.metrics, o.log)
	go func() {
		if err := ingress.ListenAndServe(stopCh); err != nil {
			o.log.WithError(err).Error("worker ingress stopped")
		}
	}()

	monitor := workersvc.NewMonitor(o.store, o.disp, o.cfg.WorkerTimeout, o.metrics, o.log)
	go monitor.Run(stopCh)

	dispatcher := workersvc.NewDispatcher(o.store, o.disp, o.log)
	go dispatcher.Run(stopCh)

	sender := replication.NewSender(o.cfg.MulticastGroup, o.cfg.MulticastPort, o.cfg.SyncInterval, o.store, o.log)
	go func() {
		if err := sender.Run(stopCh); err != nil {
			o.log.WithError(err).Error("replication sender stopped")
		}
	}()

	if o.cfg.AdminAddr != "" {
		go o.serveAdmin(stopCh)
	}

	<-stopCh
	o.log.Info("shutting down")
	return nil
}

// serveAdmin runs the Prometheus metrics HTTP endpoint until stopCh closes.
func (o *Orchestrator) serveAdmin(stopCh <-chan struct{}) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.metrics.Handler())
	srv := &http.Server{Addr: o.cfg.AdminAddr, Handler: mux}

	go func() {
		<-stopCh
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	o.log.WithField("addr", o.cfg.AdminAddr).Info("admin metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		o.log.WithError(err).Error("admin endpoint stopped")
	}
}
