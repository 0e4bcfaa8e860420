package provider

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// languageName resolves a BCP-47 code to its English display name, so
// prompts read "Armenian" rather than "hy".
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}

// languageList renders "Armenian, with possible English and Russian".
func languageList(cfg *Config) string {
	primary := languageName(cfg.Language)
	if len(cfg.AdditionalLanguages) == 0 {
		return primary
	}
	extra := make([]string, 0, len(cfg.AdditionalLanguages))
	for _, code := range cfg.AdditionalLanguages {
		extra = append(extra, languageName(code))
	}
	return fmt.Sprintf("%s, with possible %s", primary, strings.Join(extra, " and "))
}

// buildTranscriptionPrompt assembles the instruction text shared by the
// prompt-driven adapters. The timing constraint and the continuation block
// mirror what keeps vendors honest in practice: without the explicit
// "do not repeat" the overlap region comes back twice.
func buildTranscriptionPrompt(cfg *Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Transcribe this audio recording. The spoken language is %s.\n", languageList(cfg))

	if cfg.DiarizationEnabled {
		b.WriteString("Identify each distinct speaker and label their segments consistently.\n")
		if cfg.MinSpeakers > 0 && cfg.MaxSpeakers > 0 {
			fmt.Fprintf(&b, "Expect between %d and %d speakers.\n", cfg.MinSpeakers, cfg.MaxSpeakers)
		}
	}

	if cfg.AudioDuration > 0 {
		fmt.Fprintf(&b,
			"CRITICAL TIMING CONSTRAINT: this clip is exactly %.1f seconds long. "+
				"Every start and end timestamp MUST lie between 0 and %.1f seconds.\n",
			cfg.AudioDuration, cfg.AudioDuration)
	}

	if cfg.Domain != "" {
		fmt.Fprintf(&b, "Domain of the recording: %s.\n", cfg.Domain)
	}

	if len(cfg.CustomVocabulary) > 0 {
		fmt.Fprintf(&b, "Expect these terms and names: %s.\n", strings.Join(cfg.CustomVocabulary, ", "))
	}

	if cfg.Prompt != "" {
		b.WriteString(cfg.Prompt)
		b.WriteString("\n")
	}

	if cfg.ChunkIndex > 0 && cfg.PreviousTranscriptContext != "" {
		b.WriteString("\nThis clip continues a longer recording. The previous part ended with:\n")
		b.WriteString(cfg.PreviousTranscriptContext)
		b.WriteString("\nDO NOT REPEAT the context above; transcribe only what is spoken in this clip.\n")
		if len(cfg.PreviousSpeakers) > 0 {
			fmt.Fprintf(&b, "Speakers already identified: %s. Reuse these exact speaker IDs for the same voices.\n",
				strings.Join(cfg.PreviousSpeakers, ", "))
		}
	}

	return b.String()
}
