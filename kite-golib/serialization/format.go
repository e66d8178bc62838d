package serialization

import (
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/kiteco/dialogue/kite-golib/errors"
	yaml "gopkg.in/yaml.v2"
)

type compression int

const (
	uncompressed compression = iota
	gzipped
	snappied
)

type encoding int

const (
	jsonEncoding encoding = iota
	gobEncoding
	yamlEncoding
)

// format is the stream layout implied by a file name, e.g. "ted.params.gob.sz".
type format struct {
	compression compression
	encoding    encoding
}

func formatOf(path string) (format, error) {
	var f format
	name := path
	switch {
	case strings.HasSuffix(name, ".gz"):
		f.compression, name = gzipped, strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".sz"):
		f.compression, name = snappied, strings.TrimSuffix(name, ".sz")
	}

	switch {
	case strings.HasSuffix(name, ".json"):
		f.encoding = jsonEncoding
	case strings.HasSuffix(name, ".gob"):
		f.encoding = gobEncoding
	case strings.HasSuffix(name, ".yml"), strings.HasSuffix(name, ".yaml"):
		f.encoding = yamlEncoding
	default:
		return format{}, errors.Errorf("no codec for %s", path)
	}
	return f, nil
}

// Decoder matches gob.Decoder, json.Decoder and yaml.Decoder.
type Decoder interface {
	Decode(interface{}) error
}

// Encoder matches gob.Encoder, json.Encoder and yaml.Encoder.
type Encoder interface {
	Encode(interface{}) error
}

// decoder wraps r; the returned closer releases the decompressor, if any.
func (f format) decoder(r io.Reader) (Decoder, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	switch f.compression {
	case gzipped:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		r, closer = gz, gz
	case snappied:
		r = snappy.NewReader(r)
	}

	switch f.encoding {
	case gobEncoding:
		return gob.NewDecoder(r), closer, nil
	case yamlEncoding:
		return yaml.NewDecoder(r), closer, nil
	default:
		return json.NewDecoder(r), closer, nil
	}
}

// encoder wraps w; the returned closers must be closed in order, innermost first.
func (f format) encoder(w io.Writer) (Encoder, []io.Closer) {
	var closers []io.Closer
	switch f.compression {
	case gzipped:
		gz := gzip.NewWriter(w)
		w, closers = gz, append(closers, gz)
	case snappied:
		sz := snappy.NewBufferedWriter(w)
		w, closers = sz, append(closers, sz)
	}

	switch f.encoding {
	case gobEncoding:
		return gob.NewEncoder(w), closers
	case yamlEncoding:
		ye := yaml.NewEncoder(w)
		return ye, append([]io.Closer{ye}, closers...)
	default:
		return json.NewEncoder(w), closers
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
