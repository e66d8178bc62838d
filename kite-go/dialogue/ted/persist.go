package ted

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/kitelog"
	"github.com/kiteco/dialogue/kite-golib/serialization"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Files written by Persist, relative to the model directory.
const (
	ParamsFile         = "ted.params.gob.sz"
	MetaFile           = "ted.meta.json"
	SignatureFile      = "ted.signature.json"
	LabelDataFile      = "ted.label_data.json.sz"
	EntityTagSpecsFile = "ted.entity_tag_specs.json"
	ObservedFile       = "ted.observed_attributes.json"

	// CheckpointDir holds ParamsFile and CheckpointFile of the best evaluated epoch.
	CheckpointDir  = "checkpoints"
	CheckpointFile = "ted.checkpoint.json"
)

// Persist writes the policy's model to dir. The files are written to a temporary
// sibling directory that then replaces dir, so dir never holds a partial model.
func (p *Policy) Persist(fs afero.Fs, dir string) error {
	p.m.Lock()
	model, observed := p.model, p.observed
	p.m.Unlock()
	if model == nil {
		p.logger.Debug("no trained model, nothing to persist")
		return nil
	}

	dir = filepath.Clean(dir)
	stamp := time.Now().UnixNano()
	tmp := fmt.Sprintf("%s.tmp-%d", dir, stamp)
	if err := fs.MkdirAll(tmp, os.ModePerm); err != nil {
		return errors.Wrapf(err, "error creating %s", tmp)
	}
	if err := writeModel(fs, tmp, model, observed); err != nil {
		fs.RemoveAll(tmp)
		return err
	}

	old := fmt.Sprintf("%s.old-%d", dir, stamp)
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return errors.Wrapf(err, "error checking %s", dir)
	}
	if exists {
		if err := fs.Rename(dir, old); err != nil {
			return errors.Wrapf(err, "error moving aside %s", dir)
		}
	}
	if err := fs.Rename(tmp, dir); err != nil {
		if exists {
			if rerr := fs.Rename(old, dir); rerr != nil {
				p.logger.Error("error restoring previous model", zap.String("dir", old), zap.Error(rerr))
			}
		}
		fs.RemoveAll(tmp)
		return errors.Wrapf(err, "error moving %s into place", tmp)
	}
	if exists {
		if err := fs.RemoveAll(old); err != nil {
			p.logger.Warn("error removing previous model", zap.String("dir", old), zap.Error(err))
		}
	}
	p.logger.Info("persisted policy", zap.String("dir", dir), zap.Int("parameters", model.params.Len()))
	return nil
}

func writeModel(fs afero.Fs, dir string, model *Model, observed attribute.Observed) error {
	sig := model.Signature()
	files := []struct {
		name string
		obj  interface{}
	}{
		{ParamsFile, model.params.Values()},
		{MetaFile, model.hp},
		{SignatureFile, sig},
		{LabelDataFile, model.space},
		{EntityTagSpecsFile, model.TagSpecs()},
		{ObservedFile, observed},
	}
	for _, f := range files {
		if err := serialization.Encode(fs, filepath.Join(dir, f.name), f.obj); err != nil {
			return errors.Wrapf(err, "error writing %s", f.name)
		}
	}

	c := model.Checkpoint()
	if c == nil {
		return nil
	}
	cdir := filepath.Join(dir, CheckpointDir)
	if err := fs.MkdirAll(cdir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "error creating %s", cdir)
	}
	if err := serialization.Encode(fs, filepath.Join(cdir, ParamsFile), c.Params); err != nil {
		return errors.Wrapf(err, "error writing checkpoint parameters")
	}
	return errors.WrapfOrNil(serialization.Encode(fs, filepath.Join(cdir, CheckpointFile), c), "error writing %s", CheckpointFile)
}

// loadCheckpoint reads the checkpoint under dir, nil if none was persisted.
func loadCheckpoint(fs afero.Fs, dir string) (*Checkpoint, error) {
	cdir := filepath.Join(dir, CheckpointDir)
	exists, err := afero.DirExists(fs, cdir)
	if err != nil || !exists {
		return nil, err
	}
	var c Checkpoint
	if err := serialization.Decode(fs, filepath.Join(cdir, CheckpointFile), &c); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", CheckpointFile)
	}
	if err := serialization.Decode(fs, filepath.Join(cdir, ParamsFile), &c.Params); err != nil {
		return nil, errors.Wrapf(err, "error reading checkpoint parameters")
	}
	return &c, nil
}

// Load reads a policy persisted to dir. A missing dir yields a policy without a model.
func Load(fs afero.Fs, dir string, featurizer Featurizer, spans entities.SpanConverter, logger *zap.Logger) (*Policy, error) {
	logger = kitelog.OrNop(logger)
	policy, err := NewPolicy(featurizer, spans, logger)
	if err != nil {
		return nil, err
	}
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error checking %s", dir)
	}
	if !exists {
		logger.Info("no persisted model, starting untrained", zap.String("dir", dir))
		return policy, nil
	}

	var (
		values   map[string][]float64
		hp       HParams
		sig      attribute.Signature
		space    labels.Space
		tagSpecs []*entities.TagSpec
		observed attribute.Observed
	)
	files := []struct {
		name string
		obj  interface{}
	}{
		{ParamsFile, &values},
		{MetaFile, &hp},
		{SignatureFile, &sig},
		{LabelDataFile, &space},
		{EntityTagSpecsFile, &tagSpecs},
		{ObservedFile, &observed},
	}
	for _, f := range files {
		if err := serialization.Decode(fs, filepath.Join(dir, f.name), f.obj); err != nil {
			return nil, errors.Wrapf(err, "error reading %s", f.name)
		}
	}

	model, err := NewModel(hp, sig, &space, tagSpecs, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "error rebuilding model from %s", dir)
	}
	if err := model.params.Restore(values); err != nil {
		return nil, errors.Wrapf(err, "error restoring parameters from %s", dir)
	}
	if model.checkpoint, err = loadCheckpoint(fs, dir); err != nil {
		return nil, err
	}
	policy.SetModel(model, observed)
	logger.Info("loaded policy", zap.String("dir", dir), zap.Int("labels", space.Size()))
	return policy, nil
}
