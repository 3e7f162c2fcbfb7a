// Package generation orchestrates submission of music generation requests:
// admission control, content preparation, provider submission and status
// polling.
package generation

import (
	"fmt"
	"strings"
)

// Lyrics sentinels understood by the providers. They tell the model to skip
// vocals entirely, to write lyrics from a topic, or to improvise.
const (
	InstrumentalLyrics = "[Instrumental]"
	autoLyricsFormat   = "[Generate lyrics about: %s]"
	freeformLyrics     = "[Auto-generate lyrics]"
	defaultStyle       = "modern pop"
)

// Input modes accepted on submission.
const (
	InputTypeDescription = "description"
	InputTypeLyrics      = "lyrics"
)

// ContentRequest is the caller-supplied shape content preparation maps onto a
// provider payload.
type ContentRequest struct {
	Prompt       string
	Lyrics       string
	InputType    string
	Instrumental bool
}

// Content is the provider-facing lyrics/prompt split.
type Content struct {
	Lyrics string
	Prompt string
}

// PrepareContent maps a generation request onto the lyrics/prompt pair sent to
// a provider. It is deterministic and side-effect free.
func PrepareContent(req ContentRequest) Content {
	prompt := strings.TrimSpace(req.Prompt)
	lyrics := strings.TrimSpace(req.Lyrics)

	if req.Instrumental {
		style := prompt
		if style == "" {
			style = defaultStyle
		}
		return Content{Lyrics: InstrumentalLyrics, Prompt: style}
	}

	if req.InputType == InputTypeLyrics {
		if lyrics != "" {
			return Content{Lyrics: lyrics, Prompt: prompt}
		}
		return Content{Lyrics: fmt.Sprintf(autoLyricsFormat, prompt), Prompt: prompt}
	}

	style := prompt
	if style == "" {
		style = defaultStyle
	}
	return Content{Lyrics: freeformLyrics, Prompt: style}
}
