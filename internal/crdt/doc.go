// Package crdt is the production Document Engine: a delta-state CRDT
// document made of named maps and named lists.
//
// Every edit is an Item identified by (client, clock). A document is the set
// of items it has seen; merging is set union, so it is idempotent,
// commutative and associative. On top of the item set:
//
//   - Map entries are last-writer-wins registers. The winner for a key is the
//     item with the highest (Lamport, Client). A losing item is kept only as a
//     placeholder (its id and Lamport) so state vectors stay contiguous.
//   - List elements are append-only, ordered by (Lamport, Client, Clock).
//
// The summary is a state vector: for each client, the highest clock such that
// every clock up to it is known. Diff returns the items above the vector.
//
// Items are encoded in protobuf wire format, sorted by (client, clock), so two
// documents holding the same items encode to identical bytes.
package crdt
