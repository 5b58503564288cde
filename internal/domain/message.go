package domain

import "time"

// CommandResult is the outcome of one run of the operator's command.
type CommandResult struct {
	Command  string
	Elapsed  time.Duration
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sendable is an outbound payload. The concrete variants are Text, Result,
// Image and File; backends switch on the dynamic type.
type Sendable interface {
	sendable()
}

// Text is a plain (markdown-friendly) text message.
type Text struct {
	Body string
}

// Result carries a finished command run.
type Result struct {
	Result CommandResult
}

// Image is an inline picture attachment.
type Image struct {
	MIME     string
	Filename string
	Data     []byte
}

// File is a generic attachment.
type File struct {
	MIME     string
	Filename string
	Data     []byte
}

func (Text) sendable()   {}
func (Result) sendable() {}
func (Image) sendable()  {}
func (File) sendable()   {}

// Attachment returns the MIME type, file name and content of an Image or File.
// ok is false for the text variants.
func Attachment(s Sendable) (mime, filename string, data []byte, ok bool) {
	switch v := s.(type) {
	case Image:
		return v.MIME, v.Filename, v.Data, true
	case File:
		return v.MIME, v.Filename, v.Data, true
	case *Image:
		return v.MIME, v.Filename, v.Data, true
	case *File:
		return v.MIME, v.Filename, v.Data, true
	}
	return "", "", nil, false
}
