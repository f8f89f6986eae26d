// Package preprocess conditions raw scans before registration: a horizontal
// range gate, motion-distortion correction and voxel-grid downsampling.
// Each stage implements Filter and can be used on its own; Pipeline chains
// them in that order.
package preprocess
