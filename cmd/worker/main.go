// Command worker accepts pushed tasks over TCP, simulates execution by
// sleeping for the duration named in the task's data, and reports back to
// the orchestrator over UDP: heartbeats on a fixed interval, and one
// task_complete datagram per finished task.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"distask/internal/config"
	"distask/internal/task"
	"distask/internal/wire"
)

func main() {
	orchestratorAddr := flag.String("orchestrator", config.Default().WorkerAddr, "orchestrator worker-ingress UDP address")
	heartbeatInterval := flag.Duration("heartbeat-interval", config.Default().HeartbeatInterval, "interval between heartbeat datagrams")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: worker [-orchestrator addr] [-heartbeat-interval dur] <host> <port>")
		os.Exit(1)
	}
	host := args[0]
	port := args[1]
	workerID := host + "_" + port

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log).WithField("process", "worker").WithField("worker_id", workerID)

	w := &worker{
		id:                workerID,
		orchestratorAddr:  *orchestratorAddr,
		heartbeatInterval: *heartbeatInterval,
		log:               entry,
	}

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stopCh)
	}()

	go w.sendHeartbeats(stopCh)

	listenAddr := net.JoinHostPort(host, port)
	if err := w.listenForTasks(listenAddr, stopCh); err != nil {
		entry.WithError(err).Fatal("worker exited with error")
	}
}

type worker struct {
	id                string
	orchestratorAddr  string
	heartbeatInterval time.Duration
	log               *logrus.Entry
}

// sendHeartbeats fires a UDP heartbeat every heartbeatInterval until
// stopCh closes. A dropped datagram is logged and otherwise ignored: the
// next tick will overwrite it.
func (w *worker) sendHeartbeats(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := w.sendDatagram(wire.WorkerDatagram{Type: wire.WorkerMsgHeartbeat, WorkerID: w.id}); err != nil {
				w.log.WithError(err).Warn("failed to send heartbeat")
			}
		}
	}
}

func (w *worker) sendDatagram(msg wire.WorkerDatagram) error {
	conn, err := net.Dial("udp", w.orchestratorAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// listenForTasks accepts one task per TCP connection, executes it, and
// reports completion. Accept errors after stopCh closes are swallowed.
func (w *worker) listenForTasks(addr string, stopCh <-chan struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	w.log.WithField("addr", addr).Info("listening for tasks")

	go func() {
		<-stopCh
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return nil
			default:
				w.log.WithError(err).Warn("accept error")
				continue
			}
		}
		go w.handleTask(conn)
	}
}

func (w *worker) handleTask(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		w.log.WithError(err).Warn("failed to read task")
		return
	}

	var t task.Task
	if err := json.Unmarshal(buf[:n], &t); err != nil {
		w.log.WithError(err).Warn("malformed task payload")
		return
	}

	w.log.WithField("task_id", t.ID).Info("task received")
	result := executeTask(t)
	w.log.WithField("task_id", t.ID).Info("task finished")

	if err := w.sendDatagram(wire.WorkerDatagram{Type: wire.WorkerMsgTaskComplete, TaskID: t.ID, Result: result}); err != nil {
		w.log.WithError(err).WithField("task_id", t.ID).Error("failed to report completion")
	}
}

// executeTask simulates the work a real task would do by sleeping for the
// duration named in t.Data["duration"] (seconds, default 5), mirroring the
// reference worker's task_executor.
func executeTask(t task.Task) map[string]interface{} {
	duration := 5.0
	if raw, ok := t.Data["duration"]; ok {
		switch v := raw.(type) {
		case float64:
			duration = v
		case int:
			duration = float64(v)
		}
	}
	time.Sleep(time.Duration(duration * float64(time.Second)))
	return map[string]interface{}{"message": fmt.Sprintf("Tarefa %s concluída com sucesso", t.ID)}
}
