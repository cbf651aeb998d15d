// Package gossip carries bus channels over libp2p GossipSub.
//
// Each channel is a topic. This is a broker transport: every subscription on
// every connected peer receives its own copy, nothing is stored, and a
// message published while no peer or local subscription is listening is
// gone. Push reports Broadcast receipts whose Receivers count is the number
// of remote topic peers plus local subscriptions at publish time.
//
// Peers find each other through Bootstrap multiaddrs or mDNS on the local
// network. IdentityKeyFile keeps the peer id stable across restarts.
package gossip
