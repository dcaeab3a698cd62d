// Package media converts image and audio parts of user messages into text
// parts, memoizing the derived text on the stored object.
package media

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
)

// Kind is the media category of a file part.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

// Sentinel texts substituted when no real text can be produced.
const (
	SentinelUnknownImage     = "[Unknown image]"
	SentinelUnknownAudio     = "[Unknown audio]"
	SentinelImageNotFound    = "[Image not found]"
	SentinelAudioNotFound    = "[Audio not found]"
	SentinelCouldNotDescribe = "[Could not describe image]"
	SentinelCouldNotTrans    = "[Could not transcribe]"
)

// Describer produces a text description of an image.
type Describer interface {
	Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// Transcriber produces a transcript of an audio recording. An empty string
// means nothing could be extracted.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// DescriberFunc adapts a function to Describer.
type DescriberFunc func(ctx context.Context, image []byte, mimeType, prompt string) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	return f(ctx, image, mimeType, prompt)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte, mimeType string) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return f(ctx, audio, mimeType)
}

// KindOf determines the media category from a MIME type, falling back to the
// filename extension.
func KindOf(mediaType, filename string) Kind {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		switch {
		case strings.HasPrefix(mt, "image/"):
			return KindImage
		case strings.HasPrefix(mt, "audio/"):
			return KindAudio
		case mt != "" && mt != "application/octet-stream":
			return KindOther
		}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return KindImage
	case ".mp3", ".wav", ".ogg", ".oga", ".m4a", ".aac", ".flac", ".webm", ".opus":
		return KindAudio
	}
	return KindOther
}

// VisionPrompt builds the instruction sent with an image. The user's own
// words from the same message steer the description.
func VisionPrompt(userText string) string {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "Describe this image in detail."
	}
	return `The user said: "` + userText + `". Describe the image in that context.`
}

// FormatImage renders the text part replacing an image.
func FormatImage(description string) string {
	return "[Attached image: " + description + "]"
}

// FormatAudio renders the text part replacing a voice message.
func FormatAudio(transcript string) string {
	return "[Voice message: " + transcript + "]"
}
