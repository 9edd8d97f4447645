// Package arsync is a file-synchronization client
// that actively replicates local changes to a set of independent servers.
//
// Every change detected under a client's directory
// becomes an _update_ message,
// which is sent over UDP to every server in the _replica set_ at once.
// Each replica applies the update on its own
// and answers with a _received_ acknowledgment.
// There is no primary,
// no coordination among replicas,
// and no ordering guarantee between them.
//
// The client keeps a ledger of pending acknowledgments.
// A replica that fails to acknowledge a message within the server timeout
// (five seconds)
// is evicted from the replica set,
// as is a replica that announces its own shutdown.
// When the last replica is gone,
// the client has lost its quorum and exits.
//
// Messages are JSON objects,
// each terminated by a newline.
// Several may share one datagram,
// and a datagram is never larger than 65536 bytes.
// See the frame subpackage.
//
// The subpackages are layered:
// frame encodes and decodes datagrams;
// replicaset tracks membership and the pending-ack ledger;
// dispatch assigns message ids and fans messages out;
// router receives datagrams and delivers them to Listeners;
// and client ties them together with the login protocol.
// Package watch turns filesystem events into update messages,
// and package replica is a simple server that can stand in for a real one.
package arsync
