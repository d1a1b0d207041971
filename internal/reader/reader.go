// Package reader opens input sources (files or standard input), transparently
// decompresses gzip/zstd content, and yields newline-delimited RawLines.
// Grounded on the teacher's pkg/compression/http_compression.go compressor
// registry (a Compressor interface keyed by detected encoding) and its
// internal/monitors/file_monitor.go source-opening idiom, generalized from
// HTTP bodies/tailed files to the reader's batch-oriented RawLine stream.
package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	kelerrors "kelora/pkg/errors"
)

// RawLine is the immutable unit produced by the reader.
type RawLine struct {
	Text     []byte
	SourceID uint32
	LineNum  uint64
}

// Order controls the sequence sources are opened in.
type Order int

const (
	OrderCLI Order = iota
	OrderName
	OrderMTime
)

// Source names one input: a filesystem path, or "-" for standard input.
type Source struct {
	Path string
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

const maxLineBuf = 8 * 1024 * 1024

// SortSources reorders sources per the configured policy. CLI order is a
// no-op (left as given); name sorts lexicographically; mtime stats each
// file and sorts ascending by modification time (stdin sorts first since it
// has no mtime).
func SortSources(sources []Source, order Order) ([]Source, error) {
	out := append([]Source(nil), sources...)
	switch order {
	case OrderCLI:
		return out, nil
	case OrderName:
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		return out, nil
	case OrderMTime:
		type withTime struct {
			s Source
			t int64
		}
		tagged := make([]withTime, 0, len(out))
		for _, s := range out {
			if s.Path == "-" {
				tagged = append(tagged, withTime{s, 0})
				continue
			}
			info, err := os.Stat(s.Path)
			if err != nil {
				return nil, kelerrors.IOError(s.Path, "cannot stat source", err)
			}
			tagged = append(tagged, withTime{s, info.ModTime().UnixNano()})
		}
		sort.SliceStable(tagged, func(i, j int) bool { return tagged[i].t < tagged[j].t })
		out = out[:0]
		for _, tw := range tagged {
			out = append(out, tw.s)
		}
		return out, nil
	default:
		return out, nil
	}
}

// Reader streams RawLines from an ordered list of sources.
type Reader struct {
	sources []Source
}

// New returns a Reader over the given sources in the given order.
func New(sources []Source, order Order) (*Reader, error) {
	ordered, err := SortSources(sources, order)
	if err != nil {
		return nil, err
	}
	return &Reader{sources: ordered}, nil
}

// Each opens every source in turn and invokes fn for every RawLine. Errors
// from one source are reported through onSourceErr; if it returns false,
// processing of remaining sources stops (strict mode), otherwise the reader
// proceeds to the next source (resilient mode).
func (r *Reader) Each(fn func(RawLine) error, onSourceErr func(source string, err error) (continueNext bool)) error {
	for id, src := range r.sources {
		if err := r.readOne(uint32(id), src, fn); err != nil {
			if onSourceErr == nil || !onSourceErr(src.Path, err) {
				return err
			}
		}
	}
	return nil
}

func (r *Reader) readOne(id uint32, src Source, fn func(RawLine) error) error {
	var f io.ReadCloser
	if src.Path == "-" {
		f = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(src.Path)
		if err != nil {
			return kelerrors.IOError(src.Path, "cannot open source", err)
		}
		f = file
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	rd, err := decompress(br)
	if err != nil {
		return kelerrors.IOError(src.Path, "cannot detect/initialize decompression", err)
	}

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineBuf)
	var lineNum uint64
	for scanner.Scan() {
		lineNum++
		text := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		line := RawLine{
			Text:     append([]byte(nil), text...),
			SourceID: id,
			LineNum:  lineNum,
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return kelerrors.IOError(src.Path, "read failure", err)
	}
	return nil
}

// decompress peeks the first bytes of r and wraps it in a streaming
// decompressor when gzip or zstd magic bytes are detected, otherwise
// returns r unchanged.
func decompress(r *bufio.Reader) (io.Reader, error) {
	peek, err := r.Peek(4)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		if len(peek) == 0 {
			return r, nil
		}
	}
	switch {
	case bytes.HasPrefix(peek, gzipMagic):
		gr, err := newGzipReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gr, nil
	case bytes.HasPrefix(peek, zstdMagic):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return r, nil
	}
}
