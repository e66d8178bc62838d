package main

import (
	"fmt"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-go/dialogue/ted"
	"github.com/kiteco/dialogue/kite-golib/kitelog"
	"github.com/kiteco/dialogue/kite-golib/serialization"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func fail(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	start := time.Now()
	args := struct {
		HParams  string `help:"hyperparameters (.json, .yaml); defaults when empty"`
		Examples string `arg:"required" help:"featurized dialogues, one batch per dialogue (.json, .json.sz, .json.gz)"`
		Labels   string `arg:"required" help:"label space (.json, .json.sz)"`
		TagSpecs string `help:"entity tag specs (.json)"`
		Out      string `arg:"required" help:"model directory, replaced atomically"`
		Epochs   int    `help:"overrides the number of epochs"`
		Seed     int64  `help:"overrides the random seed"`
		Verbose  bool
	}{}
	arg.MustParse(&args)

	level := zapcore.InfoLevel
	if args.Verbose {
		level = zapcore.DebugLevel
	}
	logger := kitelog.New(level)
	defer logger.Sync()

	fs := afero.NewOsFs()
	hp := ted.DefaultHParams()
	if args.HParams != "" {
		var err error
		hp, err = ted.LoadHParams(fs, args.HParams)
		fail(err)
	}
	if args.Epochs > 0 {
		hp.Epochs = args.Epochs
	}
	if args.Seed != 0 {
		hp.RandomSeed = args.Seed
	}

	var space labels.Space
	fail(serialization.Decode(fs, args.Labels, &space))

	var tagSpecs []*entities.TagSpec
	if args.TagSpecs != "" {
		fail(serialization.Decode(fs, args.TagSpecs, &tagSpecs))
	}

	var examples []*attribute.Batch
	fail(serialization.Decode(fs, args.Examples, func(b *attribute.Batch) error {
		examples = append(examples, b)
		return nil
	}))
	info, err := fs.Stat(args.Examples)
	fail(err)
	logger.Info("loaded training data",
		zap.String("size", humanize.Bytes(uint64(info.Size()))),
		zap.String("examples", humanize.Comma(int64(len(examples)))),
		zap.Int("labels", space.Size()),
		zap.Int("tag_specs", len(tagSpecs)))

	trained, err := ted.NewTrainer(hp, logger).Train(examples, &space, tagSpecs)
	fail(err)

	policy, err := ted.NewPolicy(nil, nil, logger)
	fail(err)
	policy.SetModel(trained.Model, trained.Observed)
	fail(policy.Persist(fs, args.Out))

	last := trained.Epochs[len(trained.Epochs)-1]
	fmt.Printf("Done, took %v to train %d epochs on %s examples: loss %.4f, acc %.4f, entity f1 %.4f\n",
		time.Since(start), len(trained.Epochs), humanize.Comma(int64(len(examples))),
		last.Train.Loss, last.Train.Accuracy, last.Train.EntityF1)
}
