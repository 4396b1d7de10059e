// Package indexerr defines the error taxonomy of the indexing pipeline and the
// diagnostics every non-fatal error is recorded as.
package indexerr

import (
	"errors"
	"fmt"
)

// Kind names a class of indexing error.
type Kind string

const (
	KindIOAccess    Kind = "io_access"
	KindDecode      Kind = "decode"
	KindParse       Kind = "parse"
	KindEmptyQuery  Kind = "empty_query"
	KindIndexCommit Kind = "index_commit"
	KindSkipped     Kind = "skipped"
)

// IOAccessError reports a file or directory that could not be read.
// It is skipped and logged; the pass continues.
type IOAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOAccessError) Unwrap() error { return e.Err }

// DecodeError reports content that is not valid text in any accepted encoding.
// The file is recorded with zero tokens.
type DecodeError struct {
	Path     string
	Offset   int
	Encoding string
}

func (e *DecodeError) Error() string {
	if e.Encoding != "" {
		return fmt.Sprintf("decode %s: invalid %s at byte %d", e.Path, e.Encoding, e.Offset)
	}
	return fmt.Sprintf("decode %s: invalid text at byte %d", e.Path, e.Offset)
}

// ParseError reports a structured parse failure. Extraction downgrades to lexing.
type ParseError struct {
	Path     string
	Language string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.Path, e.Language, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmptyQueryError is returned for empty or whitespace-only queries.
type EmptyQueryError struct {
	Query string
}

func (e *EmptyQueryError) Error() string {
	return "query is empty"
}

// IndexCommitError reports that a pass could not persist its batch.
// It is the only pass-fatal error.
type IndexCommitError struct {
	Stage string
	Files int
	Err   error
}

func (e *IndexCommitError) Error() string {
	return fmt.Sprintf("commit %s (%d files): %v", e.Stage, e.Files, e.Err)
}

func (e *IndexCommitError) Unwrap() error { return e.Err }

// SkippedError reports a file that was recorded without extracting it.
type SkippedError struct {
	Path   string
	Reason string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("skipped %s: %s", e.Path, e.Reason)
}

// ErrParseFailed is wrapped by ParseError when the parser produced an error tree.
var ErrParseFailed = errors.New("syntax tree contains errors")

// IsFatal reports whether err aborts an indexing pass.
func IsFatal(err error) bool {
	var commitErr *IndexCommitError
	return errors.As(err, &commitErr)
}

// IsEmptyQuery reports whether err is an EmptyQueryError.
func IsEmptyQuery(err error) bool {
	var emptyErr *EmptyQueryError
	return errors.As(err, &emptyErr)
}

// KindOf classifies err. Unknown errors are treated as I/O access problems.
func KindOf(err error) Kind {
	var (
		ioErr     *IOAccessError
		decodeErr *DecodeError
		parseErr  *ParseError
		emptyErr  *EmptyQueryError
		commitErr *IndexCommitError
		skipErr   *SkippedError
	)
	switch {
	case errors.As(err, &commitErr):
		return KindIndexCommit
	case errors.As(err, &emptyErr):
		return KindEmptyQuery
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &skipErr):
		return KindSkipped
	case errors.As(err, &ioErr):
		return KindIOAccess
	default:
		return KindIOAccess
	}
}
