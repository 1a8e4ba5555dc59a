/*
Package ddns keeps DNS records pointed at a host's current public IP address.

Usage will always start with a [Store] holding the records to manage,
a [Registry] holding the [Resolver] and [Provider] plugins those records refer to,
and [New], which returns the [Updater] that ties them together.
[BuildRegistry] fills a registry from the plugin settings kept in the store.

Each update cycle asks the resolvers named by the store's priority list for the
host's IPv4 and IPv6 addresses, in order, stopping as soon as every needed family
has an answer. Records whose family changed since the previous cycle are then
handed to their provider one at a time; a failing provider never stops the others.

The updater can run a single cycle ([Updater.RunOnce]) or keep rescheduling itself
([Recurring], [Updater.Start], [Updater.Stop]).
[ControlServer] exposes the store and the updater over HTTP.
*/
package ddns
