// Package reconcile decides, after every membership view change, whether the
// local node is behind the cluster's latest durable transaction.
//
// A round broadcasts the local NodeState to every member of the view over the
// out-of-band channel, waits until each member has reported a state for the
// same view, and then ranks the reports to find the authoritative peer. A
// round that cannot converge is reported as data (ClusterState.NeedsViewRetry),
// never as an error.
package reconcile
