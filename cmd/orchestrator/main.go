// Command orchestrator runs one node of the primary/backup pair: the
// client endpoint, worker ingress, liveness monitor, dispatch loop, and
// the multicast replication sender or receiver, depending on role.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"distask/internal/config"
	"distask/internal/orchestrator"
)

func main() {
	backup := flag.Bool("backup", false, "start as backup instead of primary")
	configPath := flag.String("config", "", "path to a YAML config file (optional, overlays defaults)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log).WithField("process", "orchestrator")

	cfg, err := config.Load(*configPath)
	if err != nil {
		entry.WithError(err).Fatal("failed to load config")
	}

	o := orchestrator.New(cfg, *backup, entry)

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("received shutdown signal")
		close(stopCh)
	}()

	if err := o.Run(stopCh); err != nil {
		entry.WithError(err).Fatal("orchestrator exited with error")
	}
}
