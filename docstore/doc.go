// Package docstore persists the case documents attached to a matter.
//
// The Store interface keeps the contract narrow (save, get, list, delete of
// raw document bytes scoped by matter) so storage backends can be swapped
// without touching calling code. The in-memory implementation suits tests
// and single-process prototypes; production deployments back it with object
// storage or a database.
package docstore
