// Package voice discovers and caches named reference voices used to condition
// synthesis toward a speaker identity.
//
// The registry scans its directory once at startup; files added later are
// invisible until restart. This is a deliberate simplicity tradeoff: a live
// reload would be an explicit rescan operation, not a file watcher.
package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/voicekit/speechd/internal/core"
)

// Supported preset file extensions. Only the decodable subset can actually be
// resolved; the rest are discovered and listed as unavailable.
const (
	extWAV  = ".wav"
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extOGG  = ".ogg"
	extM4A  = ".m4a"
	extAAC  = ".aac"
)

// Language display names guessed from preset name prefixes.
const (
	languageEnglish       = "English"
	languageChinese       = "Chinese"
	languageIndianEnglish = "Indian English"
	languageUnknown       = "Unknown"
)

// VoiceInfo describes one preset for the transport layer's voice listing.
type VoiceInfo struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Language  string   `json:"language"`
	Available bool     `json:"available"`
}

// preset is one discovered voice file. The decoded waveform is populated
// lazily, exactly once, on first resolution.
type preset struct {
	name     string
	path     string
	language string

	mu       sync.RWMutex
	waveform []float32
}

// Registry resolves voice names, and their external-facing aliases, to
// decoded mono waveforms at the internal sample rate.
type Registry struct {
	log     *logger.Logger
	presets map[string]*preset
	aliases map[string]string
	group   singleflight.Group
}

// DefaultAliases returns the built-in external voice name mapping. Entries
// whose target preset is missing from the voices directory are dropped at
// registry build time.
func DefaultAliases() map[string]string {
	return map[string]string{
		"alloy":   "en-Alice_woman",
		"echo":    "en-Carter_man",
		"fable":   "en-Maya_woman",
		"onyx":    "en-Frank_man",
		"nova":    "en-Mary_woman_bgm",
		"shimmer": "en-Alice_woman",
	}
}

// New scans dir (non-recursive) for preset files and builds the alias table.
// A missing or empty directory yields an empty registry, not an error: the
// service can still start and report no voices.
func New(dir string, aliases map[string]string, log *logger.Logger) (*Registry, error) {
	registry := &Registry{
		log:     log,
		presets: make(map[string]*preset),
		aliases: make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Voices directory not found at %s", dir)

			return registry, nil
		}

		return nil, fmt.Errorf("failed to scan voices directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isPresetFile(entry.Name()) {
			continue
		}

		name := presetStem(entry.Name())
		registry.presets[name] = &preset{
			name:     name,
			path:     filepath.Join(dir, entry.Name()),
			language: guessLanguage(name),
		}
	}

	// Aliases only exist for presets that are actually on disk.
	for alias, target := range aliases {
		if _, ok := registry.presets[target]; ok {
			registry.aliases[alias] = target
		}
	}

	log.Info("Loaded %d voice presets from %s (%d aliases)",
		len(registry.presets), dir, len(registry.aliases))

	return registry, nil
}

// Resolve returns the decoded mono waveform and sample rate for a voice name,
// checking the alias table first and the preset names second. The first
// resolution of a preset decodes, downmixes and resamples its file; later
// resolutions return the memoized waveform. Concurrent first accesses to the
// same preset converge on a single decode.
func (r *Registry) Resolve(name string) ([]float32, int, error) {
	target := name
	if mapped, ok := r.aliases[name]; ok {
		target = mapped
	}

	entry, ok := r.presets[target]
	if !ok {
		return nil, 0, r.notFoundError(name)
	}

	entry.mu.RLock()
	cached := entry.waveform
	entry.mu.RUnlock()

	if cached != nil {
		return cached, core.InternalSampleRate, nil
	}

	decoded, err, _ := r.group.Do(entry.name, func() (any, error) {
		return r.loadPreset(entry)
	})
	if err != nil {
		return nil, 0, err
	}

	waveform, ok := decoded.([]float32)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected decode result for preset '%s'", entry.name)
	}

	return waveform, core.InternalSampleRate, nil
}

// loadPreset decodes a preset file and memoizes the result. Runs under the
// single-flight group, so at most one goroutine decodes a given preset.
func (r *Registry) loadPreset(entry *preset) ([]float32, error) {
	entry.mu.RLock()
	cached := entry.waveform
	entry.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	waveform, err := DecodeFile(entry.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load voice '%s' from %s: %w", entry.name, entry.path, err)
	}

	entry.mu.Lock()
	entry.waveform = waveform
	entry.mu.Unlock()

	r.log.Info("Decoded voice preset '%s' (%d samples at %d Hz)",
		entry.name, len(waveform), core.InternalSampleRate)

	return waveform, nil
}

// List returns every discovered preset, sorted by name, with its aliases,
// guessed language, and whether its file format is decodable.
func (r *Registry) List() []VoiceInfo {
	aliasesByTarget := make(map[string][]string)
	for alias, target := range r.aliases {
		aliasesByTarget[target] = append(aliasesByTarget[target], alias)
	}

	infos := make([]VoiceInfo, 0, len(r.presets))

	for _, entry := range r.presets {
		aliases := aliasesByTarget[entry.name]
		sort.Strings(aliases)

		infos = append(infos, VoiceInfo{
			Name:      entry.name,
			Aliases:   aliases,
			Language:  entry.language,
			Available: isDecodable(entry.path),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// DefaultVoice returns a preset name to use when the caller specifies none,
// preferring English presets. Empty when the registry is empty.
func (r *Registry) DefaultVoice() string {
	names := r.presetNames()

	for _, name := range names {
		if strings.HasPrefix(name, "en-") {
			return name
		}
	}

	if len(names) > 0 {
		return names[0]
	}

	return ""
}

// notFoundError builds a core.ErrVoiceNotFound listing every alias and preset
// name so the caller can self-correct.
func (r *Registry) notFoundError(name string) error {
	aliases := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		aliases = append(aliases, alias)
	}

	sort.Strings(aliases)

	return fmt.Errorf("%w: '%s' (aliases: %s; presets: %s)",
		core.ErrVoiceNotFound,
		name,
		strings.Join(aliases, ", "),
		strings.Join(r.presetNames(), ", "))
}

func (r *Registry) presetNames() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// isPresetFile reports whether a filename has a recognized preset extension.
func isPresetFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// presetStem derives the preset name from a filename.
func presetStem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// guessLanguage maps a preset name prefix to a display language.
func guessLanguage(name string) string {
	switch {
	case strings.HasPrefix(name, "en-"):
		return languageEnglish
	case strings.HasPrefix(name, "zh-"):
		return languageChinese
	case strings.HasPrefix(name, "in-"):
		return languageIndianEnglish
	default:
		return languageUnknown
	}
}
