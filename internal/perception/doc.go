// Package perception holds the shared data model for the multi-camera
// roadside perception core: per-sensor detections, fused cross-camera
// observations, and tracked object states.
//
// Processing stages live in subpackages (localize, fuse, track, state)
// and are composed by the pipeline package. This package also provides
// the geographic helpers and logging streams those stages share.
package perception
