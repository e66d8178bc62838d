package serialization

import (
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/spf13/afero"
)

// Encode writes obj to path on fs. The extension picks the encoding (.json, .gob,
// .yml or .yaml), optionally followed by .gz or .sz for compression.
func Encode(fs afero.Fs, path string, obj interface{}) (err error) {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	file, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	defer errors.Defer(&err, file.Close)

	enc, closers := f.encoder(file)
	if err := enc.Encode(obj); err != nil {
		return errors.Wrapf(err, "error encoding %s", path)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			return errors.Wrapf(err, "error flushing %s", path)
		}
	}
	return nil
}
