// Package types provides shared type definitions crossing component
// boundaries of the pipeline.
package types

import "time"

// TranscriptionResult is the recognized text for one window. It is
// produced exactly once per non-dropped window.
type TranscriptionResult struct {
	WindowID   string  `json:"windowId"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`   // Detected source language code
	Confidence float64 `json:"confidence"` // Recognition confidence 0-1
}

// Engine identifies which translation path produced a result.
type Engine string

const (
	// EngineNative is the translation path inside the loaded speech model.
	EngineNative Engine = "native"
	// EngineFallback is the external translation service.
	EngineFallback Engine = "fallback"
)

// TranslationStatus is the outcome of the translation stage for a window.
type TranslationStatus string

const (
	TranslationOK      TranslationStatus = "ok"
	TranslationFailed  TranslationStatus = "failed"
	TranslationSkipped TranslationStatus = "skipped"
)

// DisplayEvent statuses. These are the only status values crossing the
// core/display boundary.
const (
	StatusOK                 = "ok"
	StatusTranslationPending = "translation_pending"
	StatusTranslationFailed  = "translation_failed"
	StatusTranslationSkipped = "translation_skipped"
)

// TranslationResult is the translation outcome for one window.
type TranslationResult struct {
	WindowID string            `json:"windowId"`
	Text     string            `json:"text"`
	Engine   Engine            `json:"engine,omitempty"`
	Status   TranslationStatus `json:"status"`
}

// DisplayEvent is the only entity crossing the core/display boundary.
// Events are delivered in non-decreasing Start order; a late translation
// for an already delivered window arrives as a Correction carrying the
// same WindowID.
type DisplayEvent struct {
	WindowID       string        `json:"windowId"`
	Start          time.Duration `json:"start"`
	End            time.Duration `json:"end"`
	SourceLang     string        `json:"sourceLang"`
	SourceText     string        `json:"sourceText"`
	TranslatedText string        `json:"translatedText"`
	Status         string        `json:"status"`
	Correction     bool          `json:"correction,omitempty"`
}
