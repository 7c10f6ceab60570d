//go:build portaudio

package board

import (
	"github.com/MrWong99/wakecore/internal/config"
	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/audio/portaudio"
)

func registerPlatformCodecs(reg *config.Registry) {
	reg.RegisterCodec("portaudio", func(entry config.ProviderEntry) (audio.Codec, error) {
		return portaudio.New(portaudio.Config{
			SampleRate:      entry.OptionInt("sample_rate", 0),
			InputChannels:   entry.OptionInt("input_channels", 0),
			FramesPerBuffer: entry.OptionInt("frames_per_buffer", 0),
			Volume:          entry.OptionInt("volume", 0),
		}), nil
	})
}
