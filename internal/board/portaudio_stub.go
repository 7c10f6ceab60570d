//go:build !portaudio

package board

import "github.com/MrWong99/wakecore/internal/config"

// registerPlatformCodecs is a no-op without the "portaudio" build tag.
func registerPlatformCodecs(*config.Registry) {}
