// Package rt implements the Cinder managed-object runtime core.
//
// The runtime owns a heap of object records addressed through opaque,
// generation-stamped handles. Callers allocate records from type
// descriptors, invoke methods through a resolver that distinguishes
// dynamically bound (overridable) slots from statically bound (hiding)
// slots, deliver events through ordered multicast callback lists, and
// let a generational mark-compact-sweep collector reclaim records that
// are no longer reachable from the root set.
//
// The package exposes only a programmatic API. Type descriptors are
// expected to be built by a front end (or test code) and registered
// with the runtime before any instance of them is allocated.
package rt
