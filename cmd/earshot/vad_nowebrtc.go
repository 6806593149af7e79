//go:build !cgo

package main

import "github.com/MrWong99/earshot/internal/config"

// registerWebRTCVAD is a no-op without cgo; configs must use the energy
// detector.
func registerWebRTCVAD(*config.Registry) {}
