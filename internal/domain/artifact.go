package domain

import (
	"path/filepath"
	"strings"
)

// UserID is the opaque identity supplied by the chat transport.
type UserID string

// ArtifactKind enumerates the content kinds a user can submit.
type ArtifactKind string

const (
	ArtifactText     ArtifactKind = "text"
	ArtifactDocument ArtifactKind = "document"
	ArtifactAudio    ArtifactKind = "audio"
	ArtifactImage    ArtifactKind = "image"
)

// DocumentFormat enumerates supported document containers.
type DocumentFormat string

const (
	FormatUnknown DocumentFormat = ""
	FormatDOCX    DocumentFormat = "docx"
	FormatPDF     DocumentFormat = "pdf"
)

// Artifact is raw user content handed to the pipeline.
type Artifact struct {
	Kind     ArtifactKind
	Text     string
	Data     []byte
	Filename string
	MIME     string
}

// Size returns the payload size in bytes.
func (a Artifact) Size() int {
	if a.Kind == ArtifactText {
		return len(a.Text)
	}
	return len(a.Data)
}

// Format infers the document format from the filename extension, falling back
// to the MIME type.
func (a Artifact) Format() DocumentFormat {
	switch strings.ToLower(filepath.Ext(a.Filename)) {
	case ".docx":
		return FormatDOCX
	case ".pdf":
		return FormatPDF
	}
	switch a.MIME {
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "application/pdf":
		return FormatPDF
	}
	return FormatUnknown
}

// LanguageUnknown is the sentinel returned when detection cannot decide.
const LanguageUnknown = "unknown"

// ExtractedArtifact is what the session keeps around for follow-up actions on
// the same content.
type ExtractedArtifact struct {
	Kind     ArtifactKind
	Text     string
	Language string
	Analysis string
	Data     []byte
	Filename string
}
