package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedLanguage is matched by *UnsupportedLanguageError.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParse is matched by *ParseError.
	ErrParse = errors.New("parse error")
)

// UnsupportedLanguageError reports a file extension with no registered language.
type UnsupportedLanguageError struct {
	Extension string
}

func (e *UnsupportedLanguageError) Error() string {
	if e.Extension == "" {
		return "unsupported language: file has no extension"
	}
	return fmt.Sprintf("unsupported language: %s", e.Extension)
}

func (e *UnsupportedLanguageError) Is(target error) bool {
	return target == ErrUnsupportedLanguage
}

// ParseError reports that the syntax tree provider or mapper failed on a file.
type ParseError struct {
	File    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.File, e.Message)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
