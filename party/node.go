package party

import (
	"github.com/rs/zerolog"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
)

// Node wraps one party's Service behind a ServiceManager, mirroring the
// teacher's Node (node.go: one service plus one manager per party, exposing
// Start/Result/Inbox to the harness).
type Node struct {
	ID      int
	Service *Service

	manager *engine.ServiceManager[Message, Result]
}

// NewNode builds and binds a Node for party id, registered against network.
func NewNode(id, n, f int, bid int64, bcn *beacon.Beacon, sampler field.Sampler, network engine.Broadcaster[Message], logLevel zerolog.Level) *Node {
	svc := New(id, n, f, bid, bcn, sampler, logLevel)
	mgr := engine.NewServiceManager[Message, Result](id, svc, network)
	svc.Bind(mgr.Inbox())
	return &Node{ID: id, Service: svc, manager: mgr}
}

// Start launches the node's message loop, then deals its own input shares.
func (n *Node) Start() {
	n.manager.Start()
	n.Service.Start(n.manager)
}

// Stop halts the node's message loop.
func (n *Node) Stop() { n.manager.Stop() }

// Result delivers this node's single plaintext Result once decided.
func (n *Node) Result() <-chan Result { return n.manager.Results() }

// Inbox returns the channel other nodes (via a shared transport.Network)
// deliver messages to.
func (n *Node) Inbox() chan Message { return n.manager.Inbox() }
