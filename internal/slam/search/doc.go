// Package search evaluates a grid of initial guesses in parallel and keeps
// the registration with the lowest fitness. It is used when extrapolating
// the previous motion gives a poor starting point.
//
// The 2-D grid (forward distance × bearing) is flattened into one candidate
// list and run on a fixed pool of workers. Each worker builds its own
// Registrar; only the prepared target is shared.
package search
