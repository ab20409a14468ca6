package speech

import "strings"

// VoiceProfiles maps a gender selector onto a speaker known to the engine.
// Selectors are matched case-insensitively; anything unknown resolves to the
// default voice.
type VoiceProfiles struct {
	voices       map[string]string
	defaultVoice string
}

// NewVoiceProfiles copies voices so later changes to the map do not leak in.
func NewVoiceProfiles(voices map[string]string, defaultVoice string) VoiceProfiles {
	normalized := make(map[string]string, len(voices))
	for selector, speaker := range voices {
		normalized[strings.ToLower(strings.TrimSpace(selector))] = speaker
	}

	return VoiceProfiles{voices: normalized, defaultVoice: defaultVoice}
}

// Resolve returns the speaker for selector. It never fails.
func (v VoiceProfiles) Resolve(selector string) string {
	speaker, ok := v.voices[strings.ToLower(strings.TrimSpace(selector))]
	if !ok || speaker == "" {
		return v.defaultVoice
	}

	return speaker
}
