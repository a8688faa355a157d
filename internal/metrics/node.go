// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_votes_total",
		Help: "Ballots processed by this node by result",
	}, []string{"result"}) // result=counted|duplicate|rejected|buffered|replicated

	elections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_elections_total",
		Help: "Bully election events by outcome",
	}, []string{"outcome"}) // outcome=started|won|bullied|retried

	heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_heartbeats_total",
		Help: "Leader heartbeats by direction",
	}, []string{"direction"}) // direction=sent|received|missed

	peerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_peer_messages_total",
		Help: "Peer protocol messages by type and direction",
	}, []string{"type", "direction"})

	peerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_peer_messages_dropped_total",
		Help: "Inbound peer messages dropped before dispatch",
	}, []string{"reason"}) // reason=rate_limited|decode

	peersKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distvote_node_peers",
		Help: "Size of the peer table, this node included",
	})

	isLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distvote_node_is_leader",
		Help: "1 while this node holds the leader token",
	})

	registryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distvote_node_registry_requests_total",
		Help: "Registry client requests by operation and outcome",
	}, []string{"op", "outcome"})

	registryFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distvote_node_registry_failovers_total",
		Help: "Times the registry client switched to another registry",
	})
)

func RecordVote(result string)      { votes.WithLabelValues(result).Inc() }
func RecordElection(outcome string) { elections.WithLabelValues(outcome).Inc() }
func RecordHeartbeat(dir string)    { heartbeats.WithLabelValues(dir).Inc() }
func RecordPeerDrop(reason string)  { peerDrops.WithLabelValues(reason).Inc() }
func SetPeers(n int)                { peersKnown.Set(float64(n)) }

// RecordPeerMessage counts a peer message; direction is "in" or "out".
func RecordPeerMessage(msgType, direction string) {
	peerMessages.WithLabelValues(msgType, direction).Inc()
}

// SetLeader flips the leader gauge.
func SetLeader(leader bool) {
	if leader {
		isLeader.Set(1)
		return
	}
	isLeader.Set(0)
}

// RecordRegistryRequest counts a registry client call.
func RecordRegistryRequest(op, outcome string) {
	registryRequests.WithLabelValues(op, outcome).Inc()
}

// RecordRegistryFailover counts a switch of the active registry.
func RecordRegistryFailover() { registryFailovers.Inc() }
