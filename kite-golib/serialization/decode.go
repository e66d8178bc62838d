package serialization

import (
	"io"
	"reflect"

	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/spf13/afero"
)

// ErrStop may be returned by a stream handler to end decoding early without error.
var ErrStop = errors.New("stop decoding")

// Decode reads path from fs using the codec implied by its extension (see Encode).
// The target is either a pointer, filled with the first object in the file, or a
// function taking a pointer and returning nothing or an error, called once per object:
//
//	err := serialization.Decode(fs, "examples.json.gz", func(b *attribute.Batch) error {
//		batches = append(batches, b)
//		return nil
//	})
func Decode(fs afero.Fs, path string, target interface{}) error {
	file, err := fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "error opening %s", path)
	}
	defer file.Close()
	return decodeFrom(file, path, target)
}

func decodeFrom(r io.Reader, path string, target interface{}) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	dec, closer, err := f.decoder(r)
	if err != nil {
		return errors.Wrapf(err, "error opening stream %s", path)
	}
	defer closer.Close()

	v := reflect.ValueOf(target)
	switch v.Kind() {
	case reflect.Ptr:
		return errors.WrapfOrNil(dec.Decode(target), "error decoding %s", path)
	case reflect.Func:
		return errors.WrapfOrNil(stream(dec, v), "error decoding %s", path)
	default:
		panic("serialization: target must be a pointer or a func(*T) [error]")
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// stream decodes objects until EOF, passing each to the handler fn.
func stream(dec Decoder, fn reflect.Value) error {
	t := fn.Type()
	if t.NumIn() != 1 || t.In(0).Kind() != reflect.Ptr {
		panic("serialization: handler must take exactly one pointer argument")
	}
	if t.NumOut() > 1 || (t.NumOut() == 1 && t.Out(0) != errorType) {
		panic("serialization: handler must return nothing or an error")
	}
	elem := t.In(0).Elem()

	for {
		obj := reflect.New(elem)
		if err := dec.Decode(obj.Interface()); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		out := fn.Call([]reflect.Value{obj})
		if len(out) == 0 || out[0].IsNil() {
			continue
		}
		switch err := out[0].Interface().(error); err {
		case ErrStop:
			return nil
		default:
			return err
		}
	}
}
