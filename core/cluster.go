package core

// cluster.go – cluster membership and discovery gossip, layered over the
// replication data path rather than replacing it. Nodes announce
// themselves and their replication listen address on a libp2p pubsub
// topic; every node maintains a membership table from the announcements
// it receives. This is an enrichment spec.md does not itself require
// (the spec's replication is strictly point-to-point leader/follower) but
// which a real deployment needs to locate a leader without hardcoded
// addresses — grounded on the teacher's network.go/peer_management.go
// gossip-and-peer-table shape, retargeted from blockchain peer discovery
// to database replication topology.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/sirupsen/logrus"
)

const clusterTopic = "nexusdb/membership/v1"

func init() {
	golog.SetAllLoggers(golog.LevelError)
}

// Membership is one announcement a node gossips about itself.
type Membership struct {
	NodeID    string    `json:"node_id"`
	ReplAddr  string    `json:"repl_addr"`
	IsMaster  bool      `json:"is_master"`
	LSN       uint64    `json:"lsn"`
	Announced time.Time `json:"announced"`
}

// Cluster runs the libp2p host, pubsub topic, and membership table for
// one node.
type Cluster struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	mu      sync.RWMutex
	members map[string]Membership
	self    Membership
}

// NewCluster starts a libp2p host listening on listenAddr and joins the
// membership gossip topic.
func NewCluster(ctx context.Context, listenAddr string, self Membership) (*Cluster, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("cluster: create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("cluster: create pubsub: %w", err)
	}
	topic, err := ps.Join(clusterTopic)
	if err != nil {
		return nil, fmt.Errorf("cluster: join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("cluster: subscribe: %w", err)
	}
	c := &Cluster{
		host:    h,
		ps:      ps,
		topic:   topic,
		sub:     sub,
		members: make(map[string]Membership),
		self:    self,
	}
	go c.readLoop(ctx)
	return c, nil
}

// Announce publishes the node's current membership info (e.g. after it is
// promoted to master, or its LSN advances) to the gossip topic.
func (c *Cluster) Announce(ctx context.Context, m Membership) error {
	c.mu.Lock()
	c.self = m
	c.members[m.NodeID] = m
	c.mu.Unlock()

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("cluster: marshal announcement: %w", err)
	}
	return c.topic.Publish(ctx, b)
}

func (c *Cluster) readLoop(ctx context.Context) {
	for {
		msg, err := c.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Warn("cluster: subscription read failed")
			continue
		}
		if msg.ReceivedFrom == c.host.ID() {
			continue
		}
		var m Membership
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			logrus.WithError(err).Warn("cluster: malformed membership announcement")
			continue
		}
		c.mu.Lock()
		c.members[m.NodeID] = m
		c.mu.Unlock()
	}
}

// Members returns a snapshot of every node's last-known membership info.
func (c *Cluster) Members() []Membership {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Membership, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// Leader returns the membership entry for the node currently announcing
// IsMaster, if any is known.
func (c *Cluster) Leader() (Membership, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		if m.IsMaster {
			return m, true
		}
	}
	return Membership{}, false
}

// Addrs returns the host's listen multiaddrs, for logging/admin display.
func (c *Cluster) Addrs() []string {
	var out []string
	for _, a := range c.host.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// ID returns the node's libp2p peer ID.
func (c *Cluster) ID() peer.ID { return c.host.ID() }

// Close shuts down the pubsub subscription and libp2p host.
func (c *Cluster) Close() error {
	c.sub.Cancel()
	c.topic.Close()
	return c.host.Close()
}
