// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chunkedfile provides utilities for testing that descriptor
// errors are reported on the appropriate lines.
//
// A chunked file consists of several YAML documents separated by "---"
// lines. Each document is an input to the program under test, such as
// the frontend compiler. A trailing comment of the form ### "regexp"
// is an expectation of failure on that line: the text after ### is a
// Go string literal denoting a regular expression that the failure
// message must match.
//
// Example:
//
//	scopes:
//	  - kind: lexical
//	    enclosing: 3 ### "enclosing scope 3 does not precede"
//	---
//	scopes:
//	  - kind: global
//
// A client test feeds each chunk to the program under test, then calls
// chunk.Check with the error that occurred, or nil. Any discrepancy
// between the actual and expected errors is reported using the
// client's reporter, which is typically a testing.T.
package chunkedfile // import "go.stencil.dev/internal/chunkedfile"

import (
	"errors"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// A Chunk is one document of a chunked file and the errors it expects.
type Chunk struct {
	// Source is the text of the document, padded with newlines so
	// that line numbers match those of the file.
	Source string

	filename string
	report   Reporter
	wantErrs map[int]*regexp.Regexp
}

// Reporter is implemented by *testing.T.
type Reporter interface {
	Errorf(format string, args ...interface{})
}

// A LineError is an error that knows the input line it refers to.
type LineError interface {
	error
	Line() int
}

// Read parses a chunked file and returns its chunks.
// It reports failures using the reporter.
//
// Messages of the form "file:line: ..." are prefixed by a newline so
// that the Go source position added by (*testing.T).Errorf appears on
// a separate line.
func Read(filename string, report Reporter) []Chunk {
	data, err := os.ReadFile(filename)
	if err != nil {
		report.Errorf("%s", err)
		return nil
	}
	eol := "\n"
	if runtime.GOOS == "windows" {
		eol = "\r\n"
	}
	return readBytes(filename, data, report, eol)
}

func readBytes(filename string, data []byte, report Reporter, eol string) []Chunk {
	var chunks []Chunk
	linenum := 1
	for _, doc := range strings.Split(string(data), eol+"---"+eol) {
		chunk := Chunk{
			Source:   strings.Repeat("\n", linenum-1) + doc,
			filename: filename,
			report:   report,
			wantErrs: make(map[int]*regexp.Regexp),
		}
		for _, line := range strings.Split(doc, "\n") {
			if i := strings.Index(line, "###"); i >= 0 {
				chunk.expect(linenum, strings.TrimSpace(line[i+len("###"):]))
			}
			linenum++
		}
		linenum++ // the separator
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (chunk *Chunk) expect(linenum int, quoted string) {
	pattern, err := strconv.Unquote(quoted)
	if err != nil {
		chunk.report.Errorf("\n%s:%d: not a quoted regexp: %s", chunk.filename, linenum, quoted)
		return
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		chunk.report.Errorf("\n%s:%d: %v", chunk.filename, linenum, err)
		return
	}
	chunk.wantErrs[linenum] = rx
}

// GotError should be called by the client to report an error at a particular line.
// GotError reports unexpected errors to the chunk's reporter.
func (chunk *Chunk) GotError(linenum int, msg string) {
	rx, ok := chunk.wantErrs[linenum]
	if !ok {
		chunk.report.Errorf("\n%s:%d: unexpected error: %v", chunk.filename, linenum, msg)
		return
	}
	delete(chunk.wantErrs, linenum)
	if !rx.MatchString(msg) {
		chunk.report.Errorf("\n%s:%d: error %q does not match pattern %q", chunk.filename, linenum, msg, rx)
	}
}

// Done should be called by the client to indicate that the chunk has no more errors.
// Done reports expected errors that did not occur to the chunk's reporter.
func (chunk *Chunk) Done() {
	for linenum, rx := range chunk.wantErrs {
		chunk.report.Errorf("\n%s:%d: expected error matching %q", chunk.filename, linenum, rx)
	}
}

// Check reports err, which may be nil, then calls Done.
// An error that does not carry a line is unexpected on line 0.
func (chunk *Chunk) Check(err error) {
	if err != nil {
		var le LineError
		if errors.As(err, &le) {
			chunk.GotError(le.Line(), err.Error())
		} else {
			chunk.GotError(0, err.Error())
		}
	}
	chunk.Done()
}
