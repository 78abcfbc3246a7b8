package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/metrics"
	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// TopologySource exposes the latest ring snapshot
type TopologySource interface {
	Topology() *model.Topology
}

// GossipService runs an optional memberlist cluster next to the ring.
// It only observes: member failures are reported, ring state is never changed.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	meta       gossipMeta
	topology   TopologySource
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// gossipMeta is the node metadata attached to every memberlist member
type gossipMeta struct {
	Address string `json:"address"`
	Hash    string `json:"hash"`
}

// NewGossipService creates the gossip service without joining any cluster
func NewGossipService(cfg *GossipConfig, nodeID string, self model.Neighbour, topology TopologySource, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	return &GossipService{
		config:   cfg,
		nodeID:   nodeID,
		meta:     gossipMeta{Address: self.Address.String(), Hash: self.Hash.String()},
		topology: topology,
		metrics:  m,
		logger:   logger,
	}
}

// Start creates the memberlist and contacts the seed nodes
func (s *GossipService) Start() error {
	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = s.nodeID
	if s.config.BindAddr != "" {
		mlConfig.BindAddr = s.config.BindAddr
	}
	mlConfig.BindPort = s.config.BindPort
	mlConfig.AdvertisePort = s.config.BindPort
	if s.config.GossipInterval > 0 {
		mlConfig.GossipInterval = s.config.GossipInterval
	}
	if s.config.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = s.config.ProbeTimeout
	}
	if s.config.ProbeInterval > 0 {
		mlConfig.ProbeInterval = s.config.ProbeInterval
	}
	mlConfig.LogOutput = zap.NewStdLog(s.logger.Named("memberlist")).Writer()
	mlConfig.Delegate = s
	mlConfig.Events = &GossipEventDelegate{service: s}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	if len(s.config.SeedNodes) > 0 {
		joined, err := ml.Join(s.config.SeedNodes)
		if err != nil {
			s.logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		s.logger.Info("Joined gossip cluster", zap.Int("contacted", joined))
	}

	s.metrics.UpdateGossipStats(ml.NumMembers())
	return nil
}

// Members returns the number of live gossip members, zero before Start
func (s *GossipService) Members() int {
	if s.memberlist == nil {
		return 0
	}
	return s.memberlist.NumMembers()
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(s.meta)
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate. No user messages are exchanged.
func (s *GossipService) NotifyMsg(data []byte) {
	s.logger.Debug("Ignoring gossip user message", zap.Int("bytes", len(data)))
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	data, _ := json.Marshal(s.meta)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	var remote gossipMeta
	if err := json.Unmarshal(buf, &remote); err != nil {
		s.logger.Warn("Failed to unmarshal remote gossip state", zap.Error(err))
		return
	}
	s.logger.Debug("Merged remote gossip state",
		zap.String("address", remote.Address),
		zap.Bool("join", join))
}

// Shutdown leaves the gossip cluster
func (s *GossipService) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to announce gossip leave", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// memberLeft reports a departed member, flagging it when it is a ring neighbour
func (s *GossipService) memberLeft(name string, meta []byte) {
	s.metrics.UpdateGossipStats(s.Members())

	var m gossipMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		s.logger.Info("Gossip member left", zap.String("node_id", name))
		return
	}

	addr, err := model.ParseAddress(m.Address)
	if err != nil {
		s.logger.Warn("Gossip member has invalid ring address",
			zap.String("node_id", name),
			zap.String("address", m.Address))
		return
	}

	if topo := s.topology.Topology(); topo != nil && topo.IsNeighbour(addr) {
		s.metrics.RecordNeighbourFailure()
		s.logger.Warn("Ring neighbour left gossip cluster",
			zap.String("node_id", name),
			zap.String("address", m.Address),
			zap.String("hash", m.Hash))
		return
	}

	s.logger.Info("Gossip member left",
		zap.String("node_id", name),
		zap.String("address", m.Address))
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.metrics.UpdateGossipStats(d.service.Members())
	d.service.logger.Info("Gossip member joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()),
		zap.ByteString("meta", node.Meta))
}

// NotifyLeave is called when a node leaves or is declared dead
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.memberLeft(node.Name, node.Meta)
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Gossip member updated",
		zap.String("node_id", node.Name))
}
