// Package node advertises running harvest processes in the KV store.
//
// Every API server and agent writes a short-lived record under
// <role>::<name>[::<port>] on a fixed interval. A record expires after
// interval times the expiry multiplier, so List only returns nodes that are
// still beating.
package node
