package consensus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// BufferedConn wraps a net.Conn to allow replaying a peeked byte.
// RaftListener peeks at the first byte to detect HTTP traffic; when the traffic is
// Raft the byte is handed back on the first Read.
type BufferedConn struct {
	net.Conn
	peeked []byte
}

func (c *BufferedConn) Read(p []byte) (n int, err error) {
	if len(c.peeked) > 0 {
		n = copy(p, c.peeked)
		c.peeked = c.peeked[n:]
		if len(c.peeked) == 0 {
			c.peeked = nil
		}
		return n, nil
	}
	return c.Conn.Read(p)
}

// RaftListener is a net.Listener that answers HTTP health checks hitting the Raft
// port and passes binary Raft RPC traffic through.
type RaftListener struct {
	net.Listener
	advertise net.Addr
	logger    hclog.Logger
}

// Accept returns the next Raft connection. Connections whose first byte looks like an
// HTTP method ('G', 'H', 'P', 'C', 'O', 'D') get a 200 OK and are closed.
// Raft RPC types are small binary values (0-3), so they never collide with these.
func (l *RaftListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		peek := make([]byte, 1)
		n, err := conn.Read(peek)
		_ = conn.SetReadDeadline(time.Time{})

		if err != nil || n == 0 {
			conn.Close()
			continue
		}

		b := peek[0]
		if b == 'G' || b == 'H' || b == 'P' || b == 'C' || b == 'O' || b == 'D' {
			if _, err := conn.Write([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok")); err != nil {
				l.logger.Warn("failed to answer health check", "error", err)
			}
			conn.Close()
			continue
		}

		return &BufferedConn{Conn: conn, peeked: peek}, nil
	}
}

// Addr returns the advertised address when one is configured.
func (l *RaftListener) Addr() net.Addr {
	if l.advertise != nil {
		return l.advertise
	}
	return l.Listener.Addr()
}

func (l *RaftListener) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", string(address), timeout)
}

// RaftConfig holds what SetupRaft needs to start a node.
type RaftConfig struct {
	Dir           string // logs, stable store and snapshots
	NodeID        string
	BindAddr      string // local listen address
	AdvertiseAddr string // address peers dial; defaults to the bound address
}

// SetupRaft initializes and starts a Raft node.
// It sets up the BoltDB store for logs and stable state, a file snapshot store, and
// the transport over a RaftListener.
func SetupRaft(cfg RaftConfig, fsm *FSM, logger hclog.Logger) (*RaftNode, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create raft dir: %w", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.Logger = logger

	realListener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	raftListener := &RaftListener{Listener: realListener, logger: logger}
	if cfg.AdvertiseAddr != "" {
		advertiseAddr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			realListener.Close()
			return nil, fmt.Errorf("resolve advertise address: %w", err)
		}
		raftListener.advertise = advertiseAddr
	}

	transport := raft.NewNetworkTransportWithConfig(&raft.NetworkTransportConfig{
		Stream:  raftListener,
		MaxPool: 3,
		Timeout: 10 * time.Second,
		Logger:  logger,
	})

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(cfg.Dir, 2, logger)
	if err != nil {
		transport.Close()
		return nil, err
	}

	boltDB, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("new bolt store: %w", err)
	}

	ra, err := raft.NewRaft(config, fsm, boltDB, boltDB, snapshotStore, transport)
	if err != nil {
		boltDB.Close()
		transport.Close()
		return nil, fmt.Errorf("new raft: %w", err)
	}

	return &RaftNode{
		Raft: ra,
		ID:   config.LocalID,
		Addr: transport.LocalAddr(),
	}, nil
}

// RaftNode adapts *raft.Raft to ports.Consensus.
type RaftNode struct {
	Raft    *raft.Raft
	ID      raft.ServerID
	Addr    raft.ServerAddress
	Timeout time.Duration // per-command apply and barrier timeout, 500ms when zero
}

// Bootstrap makes this node the single voter of a new cluster.
func (n *RaftNode) Bootstrap() error {
	f := n.Raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: n.ID, Address: n.Addr}},
	})
	return f.Error()
}

// Shutdown stops the node.
func (n *RaftNode) Shutdown() error {
	return n.Raft.Shutdown().Error()
}

func (n *RaftNode) timeout() time.Duration {
	if n.Timeout == 0 {
		return 500 * time.Millisecond
	}
	return n.Timeout
}

func (n *RaftNode) Apply(cmd []byte) error {
	f := n.Raft.Apply(cmd, n.timeout())
	if err := f.Error(); err != nil {
		return err
	}
	// FSM.Apply reports command errors through the response.
	if err, ok := f.Response().(error); ok {
		return err
	}
	return nil
}

func (n *RaftNode) Barrier() error {
	return n.Raft.Barrier(n.timeout()).Error()
}

func (n *RaftNode) AddVoter(id, addr string) error {
	f := n.Raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0)
	return f.Error()
}

func (n *RaftNode) IsLeader() bool {
	return n.Raft.State() == raft.Leader
}
