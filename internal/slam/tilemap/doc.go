// Package tilemap owns the persistent map store and the registration target
// derived from it.
//
// TileMap buckets map-frame points by a horizontal tile key and only grows.
// LocalWindow is the union of a square block of tiles around the vehicle,
// rebuilt when the vehicle crosses into a new tile or after the map changed.
package tilemap
