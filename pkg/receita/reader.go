package receita

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxLineSize bounds a single line, terminator included. Records are 1200
// bytes; longer lines are skipped without being buffered.
const maxLineSize = 64 * 1024

// Reader streams decoded lines from an extract.
//
// Memory use is one line at a time regardless of file size. The sequence ends
// after the trailer line or at end of input, whichever comes first, and cannot
// be restarted; reopen the source to read it again.
type Reader struct {
	br      *bufio.Reader
	buf     []byte
	line    Line
	lineNo  int
	eof     bool
	done    bool
	trailer bool
	err     error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next advances to the next line. It returns false once the trailer has been
// read, at end of input, or on a read error.
func (r *Reader) Next() bool {
	if r.done || r.eof {
		r.done = true
		return false
	}
	raw, tooLong, err := r.readLine()
	switch {
	case err == io.EOF:
		r.eof = true
		if len(raw) == 0 && !tooLong {
			r.done = true
			return false
		}
	case err != nil:
		r.done = true
		r.err = fmt.Errorf("reading line %d: %w", r.lineNo+1, err)
		return false
	}

	r.lineNo++
	if tooLong {
		r.line = skip(r.lineNo, ErrLineTooLong, fmt.Sprintf("more than %d bytes", maxLineSize))
	} else {
		r.line = Decode(raw, r.lineNo)
	}
	if r.line.Kind == KindTrailer {
		r.trailer = true
		r.done = true
	}
	return true
}

// readLine returns the next line including its terminator. Past maxLineSize
// the rest of the line is read and discarded, and tooLong is set.
func (r *Reader) readLine() ([]byte, bool, error) {
	r.buf = r.buf[:0]
	tooLong := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(r.buf)+len(chunk) > maxLineSize {
				tooLong = true
				r.buf = r.buf[:0]
			} else {
				r.buf = append(r.buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return r.buf, tooLong, err
	}
}

// Line returns the current decoded line. Record and Header values do not
// alias the read buffer and stay valid after Next.
func (r *Reader) Line() Line {
	return r.line
}

// Err returns the first read error, if any. Skipped lines are not errors.
func (r *Reader) Err() error {
	return r.err
}

// SawTrailer reports whether the stream ended on a trailer line.
func (r *Reader) SawTrailer() bool {
	return r.trailer
}

// LinesRead returns the number of lines consumed so far.
func (r *Reader) LinesRead() int {
	return r.lineNo
}

// File is an opened extract, transparently decompressed.
type File struct {
	io.Reader
	Name string

	f  *os.File
	gz *gzip.Reader
}

// OpenFile opens an extract for reading. Files ending in ".gz" are
// decompressed on the fly.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening extract: %w", err)
	}
	file := &File{Reader: f, Name: filepath.Base(path), f: f}

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip extract: %w", err)
		}
		file.gz = gz
		file.Reader = gz
		file.Name = strings.TrimSuffix(file.Name, filepath.Ext(file.Name))
	}
	return file, nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	if f.gz != nil {
		f.gz.Close()
	}
	return f.f.Close()
}
