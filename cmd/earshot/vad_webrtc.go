//go:build cgo

package main

import (
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/webrtc"
)

func registerWebRTCVAD(reg *config.Registry) {
	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})
}
