// Package replication implements the primary/backup protocol: the primary
// multicasts a state snapshot and a liveness heartbeat every SyncInterval;
// the backup consumes them and, on primary silence longer than
// PrimaryTimeout, promotes itself.
//
// The Sender/Receiver split, each with a Run(stopCh) loop, mirrors
// vinayprograms-agentkit's heartbeat package (BusSender/BusMonitor),
// adapted from a message bus to raw IP multicast since no repo in the pack
// wraps multicast group membership.
package replication

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"distask/internal/clock"
	"distask/internal/store"
	"distask/internal/wire"
)

const maxDatagramBytes = 65507

// multicastTTL matches spec §4.6: IP_MULTICAST_TTL = 2.
const multicastTTL = 2

// Sender runs on the primary: it periodically emits a snapshot datagram
// followed by a heartbeat datagram to the multicast group.
type Sender struct {
	group    string
	port     int
	interval time.Duration
	store    *store.Store
	log      *logrus.Entry
}

// NewSender builds a primary-side replication sender.
func NewSender(group string, port int, interval time.Duration, st *store.Store, log *logrus.Entry) *Sender {
	return &Sender{group: group, port: port, interval: interval, store: st, log: log.WithField("component", "replication_sender")}
}

// Run loops until stopCh closes, broadcasting one sync cycle per interval.
// Datagram loss is tolerated: the next cycle overwrites.
func (s *Sender) Run(stopCh <-chan struct{}) error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.group), Port: s.port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial multicast group: %w", err)
	}
	defer conn.Close()

	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(multicastTTL); err != nil {
		s.log.WithError(err).Warn("failed to set multicast TTL, continuing with default")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.syncOnce(conn)
		}
	}
}

func (s *Sender) syncOnce(conn *net.UDPConn) {
	snapshot, err := s.store.Snapshot()
	if err != nil {
		s.log.WithError(err).Error("failed to build state snapshot")
		return
	}
	if _, err := conn.Write(append([]byte{wire.TagSnapshot}, snapshot...)); err != nil {
		s.log.WithError(err).Warn("failed to send snapshot datagram")
	}

	hb, err := json.Marshal(wire.PrimaryHeartbeat{TS: float64(time.Now().UnixNano()) / 1e9})
	if err != nil {
		s.log.WithError(err).Error("failed to marshal heartbeat")
		return
	}
	if _, err := conn.Write(append([]byte{wire.TagHeartbeat}, hb...)); err != nil {
		s.log.WithError(err).Warn("failed to send heartbeat datagram")
	}
}

// Receiver runs on the backup: it joins the multicast group, applies
// incoming snapshots, tracks primary liveness, and signals failover.
type Receiver struct {
	group   string
	port    int
	timeout time.Duration
	store   *store.Store
	clock   *clock.Lamport
	log     *logrus.Entry

	lastPrimaryHeartbeat time.Time
}

// NewReceiver builds a backup-side replication receiver.
func NewReceiver(group string, port int, timeout time.Duration, st *store.Store, clk *clock.Lamport, log *logrus.Entry) *Receiver {
	return &Receiver{
		group:                group,
		port:                 port,
		timeout:              timeout,
		store:                st,
		clock:                clk,
		log:                  log.WithField("component", "replication_receiver"),
		lastPrimaryHeartbeat: time.Now(),
	}
}

// Run listens for snapshot/heartbeat datagrams until either stopCh closes
// or the primary is presumed dead, in which case it returns true (promote)
// and nil error. It returns false, nil on clean shutdown via stopCh.
func (r *Receiver) Run(stopCh <-chan struct{}) (promote bool, err error) {
	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.group, r.port))
	if err != nil {
		return false, fmt.Errorf("resolve multicast listen addr: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, udpAddr)
	if err != nil {
		return false, fmt.Errorf("join multicast group: %w", err)
	}
	defer conn.Close()

	go func() {
		<-stopCh
		_ = conn.Close()
	}()

	r.log.WithField("group", r.group).WithField("port", r.port).Info("backup listening for primary sync")

	buf := make([]byte, maxDatagramBytes)
	for {
		select {
		case <-stopCh:
			return false, nil
		default:
		}

		if time.Since(r.lastPrimaryHeartbeat) > r.timeout {
			r.log.Warn("primary heartbeat not observed within timeout, initiating failover")
			return true, nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(r.timeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return false, nil
			default:
				r.log.WithError(err).Warn("multicast read error")
				continue
			}
		}
		r.handleDatagram(buf[:n])
	}
}

func (r *Receiver) handleDatagram(data []byte) {
	if len(data) == 0 {
		return
	}
	tag, body := data[0], data[1:]

	switch tag {
	case wire.TagSnapshot:
		if err := r.store.LoadSnapshot(body, r.clock); err != nil {
			r.log.WithError(err).Error("failed to load state snapshot, leaving state unchanged")
			return
		}
	case wire.TagHeartbeat:
		r.lastPrimaryHeartbeat = time.Now()
	default:
		r.log.WithField("tag", tag).Warn("unknown multicast tag")
	}
}
