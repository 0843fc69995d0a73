// Package syncshadow implements shadow memory for synchronization primitives.
//
// Every address the monitored program uses for synchronization (a mutex, an
// atomic variable, a seqcount, a per-CPU variable, an RCU-protected pointer)
// is lazily given a SyncVar the first time a release or acquire touches it.
// A SyncVar carries the vector clock published by releases on that address,
// the owner of an exclusive lock and the clocks of its last lock and unlock.
//
// Sync algorithm:
//
//	Acquire(m):  Ct := Ct ⊔ Lm  (thread clock joins sync clock)
//	Release(m):  Lm := Lm ⊔ Ct  (sync clock joins thread clock)
//
// Releases merge instead of overwrite, so read-unlocks of a reader/writer
// lock accumulate and a later writer observes all of them.
//
// # Memory blocks
//
// Memory blocks registered with a BlockTable anchor the SyncVars created
// inside them. Freeing a block destroys every SyncVar it anchors, so sync
// state never outlives the memory it describes and a reused address starts
// from a fresh object.
//
// # Lock order
//
// bucket → SyncVar → Block. The block lock also guards the per-block list
// links stored in each SyncVar.
package syncshadow
