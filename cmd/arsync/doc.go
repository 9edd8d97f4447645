// Command arsync replicates a directory tree to several servers at once.
//
// Run one or more replicas,
// each with its own storage directory:
//
//   arsync adduser -user alice
//   arsync serve -addr :9000 -dir STORE_1
//   arsync serve -addr :9001 -dir STORE_2
//
// (The replicas may share a credential store,
// as they do by default.)
// Then run a client:
//
//   arsync sync -hosts localhost -ports 9000,9001 -dir SYNC_DIR
//
// The client prompts for a username and password,
// logs in,
// and sends every later change under SYNC_DIR to all the replicas.
// A replica that stops acknowledging changes is dropped,
// and the client exits when none are left.
// Interrupt the client or a replica with a keyboard interrupt.
//
// Settings can also come from a YAML file given with -config,
// which precedes the subcommand:
//
//   arsync -config arsync.yaml sync
//
// A replica started with -health-addr serves the gRPC health-checking protocol there;
// query it with:
//
//   arsync status -addr localhost:9100
package main
