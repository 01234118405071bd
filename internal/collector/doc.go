// Package collector drives the scraping of the analytics API.
//
// One Reconciler per UVE type owns a discovery task that polls
// {host}{base_url}/{type}s and diffs the returned instance names against the
// instances it tracks:
//
//   - new instance (and in the allow-list, if any): one Binding per metric
//     definition of the type and one jittered task fetching the instance
//     with the union of the bindings' cfilt items
//   - vanished instance: task cancelled, series of its bindings removed
//   - known instance: nothing
//
// A failed discovery fetch changes nothing. The Collector groups the
// definitions by type, shares one pool, session and registry between the
// reconcilers and runs every task in one scraper.Group.
package collector
