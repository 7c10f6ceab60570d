package board

import (
	"strings"

	"github.com/spf13/afero"

	"github.com/MrWong99/wakecore/internal/config"
	"github.com/MrWong99/wakecore/pkg/acoustic"
	"github.com/MrWong99/wakecore/pkg/acoustic/flux"
	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/audio/wavfile"
	"github.com/MrWong99/wakecore/pkg/display"
	"github.com/MrWong99/wakecore/pkg/display/ws"
	"github.com/MrWong99/wakecore/pkg/led"
)

// RegisterBuiltins registers every built-in codec, display, LED and acoustic
// engine with reg. File-backed codecs read and write through fs.
func RegisterBuiltins(reg *config.Registry, fs afero.Fs) {
	// ── Codecs ────────────────────────────────────────────────────────────────

	reg.RegisterCodec("wavfile", func(entry config.ProviderEntry) (audio.Codec, error) {
		return wavfile.New(fs, wavfile.Config{
			InputPath:        entry.OptionString("input_path", ""),
			OutputPath:       entry.OptionString("output_path", ""),
			OutputSampleRate: entry.OptionInt("output_sample_rate", 0),
			Loop:             entry.OptionBool("loop", true),
			Realtime:         entry.OptionBool("realtime", true),
			Volume:           entry.OptionInt("volume", 0),
		})
	})
	registerPlatformCodecs(reg)

	// ── Displays ──────────────────────────────────────────────────────────────

	reg.RegisterDisplay("log", func(config.ProviderEntry) (display.Display, error) {
		return display.Log{}, nil
	})
	reg.RegisterDisplay("none", func(config.ProviderEntry) (display.Display, error) {
		return display.None{}, nil
	})
	// The websocket display is also an http.Handler; the application mounts
	// it on the ops server.
	reg.RegisterDisplay("websocket", func(entry config.ProviderEntry) (display.Display, error) {
		var opts []ws.Option
		if origins := splitList(entry.OptionString("origin_patterns", ""), ","); len(origins) > 0 {
			opts = append(opts, ws.WithOriginPatterns(origins...))
		}
		return ws.New(opts...), nil
	})

	// ── LEDs ──────────────────────────────────────────────────────────────────

	reg.RegisterLED("log", func(config.ProviderEntry) (led.LED, error) {
		return &led.Log{}, nil
	})
	reg.RegisterLED("none", func(config.ProviderEntry) (led.LED, error) {
		return led.None{}, nil
	})

	// ── Acoustic engines ──────────────────────────────────────────────────────

	reg.RegisterAcoustic("flux", func(entry config.ProviderEntry) (acoustic.Provider, error) {
		return flux.New(flux.Config{
			ModelName: entry.OptionString("model", ""),
			WakeWords: entry.OptionString("wake_words", ""),
			Word:      entry.OptionString("word", ""),
			ChunkSize: entry.OptionInt("chunk_size", 0),
			Threshold: entry.OptionFloat("threshold", 0),
			FluxRatio: entry.OptionFloat("flux_ratio", 0),
			Hold:      entry.OptionInt("hold", 0),
		})
	})
}

// splitList splits s on sep and drops empty, space-only elements.
func splitList(s, sep string) []string {
	var out []string
	for part := range strings.SplitSeq(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
