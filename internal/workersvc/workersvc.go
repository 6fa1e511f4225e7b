// Package workersvc implements the Worker Endpoint: UDP ingress for
// heartbeats and completions, the liveness monitor, and the outbound TCP
// dispatch loop that pushes queued tasks to workers.
package workersvc

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"distask/internal/dispatch"
	"distask/internal/metrics"
	"distask/internal/store"
	"distask/internal/task"
	"distask/internal/wire"
)

// maxHeartbeatBytes / maxCompletionBytes are the UDP datagram sizes per
// spec §6. The ingress reads every datagram into one maxCompletionBytes
// buffer; maxHeartbeatBytes is not enforced on heartbeats.
const (
	maxHeartbeatBytes  = 1024
	maxCompletionBytes = 65507
)

// Ingress is the UDP receiver for worker heartbeats and completions.
type Ingress struct {
	addr    string
	store   *store.Store
	log     *logrus.Entry
	metrics *metrics.Registry

	conn *net.UDPConn
}

// NewIngress builds a worker UDP ingress bound to addr. m may be nil.
func NewIngress(addr string, st *store.Store, m *metrics.Registry, log *logrus.Entry) *Ingress {
	return &Ingress{addr: addr, store: st, metrics: m, log: log.WithField("component", "worker_ingress")}
}

// ListenAndServe binds the UDP socket and decodes datagrams until stopCh
// closes. Malformed datagrams are dropped with a log entry; never fatal.
func (in *Ingress) ListenAndServe(stopCh <-chan struct{}) error {
	udpAddr, err := net.ResolveUDPAddr("udp", in.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	in.conn = conn
	in.log.WithField("addr", conn.LocalAddr().String()).Info("listening for workers")

	go func() {
		<-stopCh
		_ = conn.Close()
	}()

	buf := make([]byte, maxCompletionBytes)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stopCh:
				return nil
			default:
				in.log.WithError(err).Warn("udp read error")
				continue
			}
		}
		in.handleDatagram(buf[:n], src)
	}
}

func (in *Ingress) handleDatagram(data []byte, src *net.UDPAddr) {
	var msg wire.WorkerDatagram
	if err := json.Unmarshal(data, &msg); err != nil {
		in.log.WithError(err).Warn("malformed worker datagram")
		return
	}

	switch msg.Type {
	case wire.WorkerMsgHeartbeat:
		if msg.WorkerID == "" {
			in.log.Warn("heartbeat missing worker_id")
			return
		}
		first := in.store.UpdateWorkerHeartbeat(msg.WorkerID, src.IP.String(), src.Port, time.Now())
		if first {
			in.log.WithField("worker_id", msg.WorkerID).WithField("addr", src.String()).Info("new worker registered")
		}
	case wire.WorkerMsgTaskComplete:
		if msg.TaskID == "" {
			in.log.Warn("task_complete missing task_id")
			return
		}
		in.store.UpdateTaskStatus(msg.TaskID, task.Completed, msg.Result)
		if in.metrics != nil {
			in.metrics.ObserveTerminal(string(task.Completed))
		}
	default:
		in.log.WithField("type", msg.Type).Warn("unknown worker datagram type")
	}
}

// Monitor periodically checks for dead workers and feeds the active set
// into the round-robin dispatcher.
type Monitor struct {
	store   *store.Store
	disp    *dispatch.RoundRobin
	timeout time.Duration
	metrics *metrics.Registry
	log     *logrus.Entry
}

// NewMonitor builds a liveness monitor with the given dead-worker timeout.
// m may be nil.
func NewMonitor(st *store.Store, disp *dispatch.RoundRobin, timeout time.Duration, m *metrics.Registry, log *logrus.Entry) *Monitor {
	return &Monitor{store: st, disp: disp, timeout: timeout, metrics: m, log: log.WithField("component", "liveness_monitor")}
}

// Run loops with period equal to timeout until stopCh closes, per spec §4.5.
func (m *Monitor) Run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			active := m.store.CheckDeadWorkers(time.Now(), m.timeout)
			m.disp.UpdateWorkers(active)
			if m.metrics != nil {
				m.metrics.SetActiveWorkers(len(active))
				m.metrics.SetPendingTasks(m.store.PendingCount())
			}
		}
	}
}

// Dispatcher is the outbound loop: pull a task, pick a worker, push it.
type Dispatcher struct {
	store *store.Store
	disp  *dispatch.RoundRobin
	log   *logrus.Entry

	dialTimeout time.Duration
}

// NewDispatcher builds an outbound dispatch loop.
func NewDispatcher(st *store.Store, disp *dispatch.RoundRobin, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{store: st, disp: disp, log: log.WithField("component", "dispatcher"), dialTimeout: 3 * time.Second}
}

// Run loops until stopCh closes: get_next_task, pick a worker, push over
// TCP, handle failure by re-queuing. Backoff matches spec §4.5/§5: ~1s
// when the queue is empty, ~2s when no worker is available.
func (d *Dispatcher) Run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		t, ok := d.store.GetNextTask()
		if !ok {
			sleep(stopCh, time.Second)
			continue
		}

		workerID, ok := d.disp.Next()
		if !ok {
			d.log.Warn("no worker available, re-queueing task")
			d.store.AddTask(t)
			sleep(stopCh, 2*time.Second)
			continue
		}

		if err := d.send(workerID, t); err != nil {
			d.log.WithError(err).WithField("task_id", t.ID).WithField("worker_id", workerID).Error("dispatch failed, re-queueing")
			d.store.AddTask(t)
			continue
		}

		d.store.SetAssignedWorker(t.ID, workerID)
		d.log.WithField("task_id", t.ID).WithField("worker_id", workerID).Info("task dispatched")
	}
}

func (d *Dispatcher) send(workerID string, t *task.Task) error {
	addr, port, err := taskAddr(d.store, workerID)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr, port), d.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// taskAddr computes the outbound TCP address for workerID: the host is
// the source address most recently observed for heartbeats; the port is
// parsed as the integer suffix after the last '_' of the worker id.
func taskAddr(st *store.Store, workerID string) (host string, port int, err error) {
	host, ok := st.WorkerAddr(workerID)
	if !ok {
		return "", 0, fmt.Errorf("no known address for worker %s", workerID)
	}
	idx := strings.LastIndex(workerID, "_")
	if idx < 0 {
		return "", 0, fmt.Errorf("worker id %q missing port suffix", workerID)
	}
	port, err = strconv.Atoi(workerID[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("worker id %q has non-numeric port suffix: %w", workerID, err)
	}
	return host, port, nil
}

func sleep(stopCh <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
	case <-timer.C:
	}
}
