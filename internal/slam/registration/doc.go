// Package registration aligns a source point cloud to a target cloud and
// returns the rigid transform, a fitness score and a convergence flag.
//
// Two algorithms sit behind the Registrar interface: point-to-point ICP and
// NDT (normal distributions transform). The algorithm is chosen at runtime
// with a Method value; New is the only constructor callers need.
//
// A Target (the prepared, immutable form of a target cloud) may be shared by
// any number of registrars at once. A Registrar itself is not safe for
// concurrent use; give each goroutine its own.
package registration
