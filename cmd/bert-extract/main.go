// Package main is the bert-extract CLI entry point: it encodes input
// sentences, runs the exported BERT model, and stores per-word, per-layer
// feature tensors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	internal "github.com/matt-peters/bert/bert"
	"github.com/matt-peters/bert/bert/config"
	"github.com/matt-peters/bert/bert/encode"
	"github.com/matt-peters/bert/bert/features"
	"github.com/matt-peters/bert/bert/pipeline"
	"github.com/matt-peters/bert/bert/store"
	"github.com/matt-peters/bert/bert/tokenizer"
)

var version = "dev"

func main() {
	logger := internal.GetLogger()

	var (
		configPath    = flag.String("config", "", "path to config file (optional)")
		inputFile     = flag.String("input_file", "", "input text file, one example per line; \"<A> ||| <B>\" lines are sentence pairs")
		outputFile    = flag.String("output_file", "", "feature store database path")
		outputIDsFile = flag.String("output_ids_file", "", "optional JSON alignment side-channel path")
		vocabFile     = flag.String("vocab_file", "", "WordPiece vocabulary file")
		modelConfig   = flag.String("bert_config_file", "", "bert_config.json of the pretrained model")
		checkpoint    = flag.String("init_checkpoint", "", "exported model (ONNX)")
		maxSeqLength  = flag.Int("max_seq_length", 0, "maximum sequence length after WordPiece tokenization")
		batchSize     = flag.Int("batch_size", 0, "batch size for predictions")
		doLowerCase   = flag.Bool("do_lower_case", true, "lower case the input text (uncased models)")
		tokensOnly    = flag.Bool("do_tokens_only", true, "only output features for the first sub-token of each word")
		ep            = flag.String("execution_provider", "", "onnx execution provider: cpu, cuda, tensorrt, coreml, dml")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	bc := cfg.Bert

	// Flags override config file values.
	if *inputFile != "" {
		bc.InputFile = *inputFile
	}
	if *outputFile != "" {
		bc.OutputFile = *outputFile
	}
	if *outputIDsFile != "" {
		bc.OutputIDsFile = *outputIDsFile
	}
	if *vocabFile != "" {
		bc.VocabFile = *vocabFile
	}
	if *modelConfig != "" {
		bc.ConfigFile = *modelConfig
	}
	if *checkpoint != "" {
		bc.Checkpoint = *checkpoint
	}
	if *maxSeqLength > 0 {
		bc.MaxSeqLength = *maxSeqLength
	}
	if *batchSize > 0 {
		bc.BatchSize = *batchSize
	}
	if *ep != "" {
		bc.ExecutionProvider = *ep
	}
	// Bool flags carry defaults, so they only override the config file when
	// actually given on the command line.
	if boolFlagPassed(flag.CommandLine, "do_lower_case") {
		bc.DoLowerCase = *doLowerCase
	}
	if boolFlagPassed(flag.CommandLine, "do_tokens_only") {
		bc.TokensOnly = *tokensOnly
	}

	for name, v := range map[string]string{
		"input_file":       bc.InputFile,
		"output_file":      bc.OutputFile,
		"vocab_file":       bc.VocabFile,
		"bert_config_file": bc.ConfigFile,
		"init_checkpoint":  bc.Checkpoint,
	} {
		if v == "" {
			logger.Fatal().Str("flag", name).Msg("required value missing")
		}
	}

	slog.Info("Starting extraction",
		"do_lower_case", bc.DoLowerCase,
		"do_tokens_only", bc.TokensOnly,
		"max_seq_length", bc.MaxSeqLength,
		"batch_size", bc.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, bc); err != nil {
		logger.Fatal().Err(err).Msg("extraction failed")
	}
}

func run(ctx context.Context, bc config.BertConfig) error {
	tok, err := newTokenizer(bc)
	if err != nil {
		return fmt.Errorf("initialize tokenizer: %w", err)
	}

	modelCfg, err := features.LoadModelConfig(bc.ConfigFile)
	if err != nil {
		return err
	}

	features.SetONNXExecutionProvider(bc.ExecutionProvider)
	features.SetONNXDeviceID(bc.DeviceID)
	enc := features.NewONNXEncoder(bc.Checkpoint, modelCfg)

	examples, err := encode.ReadExamplesFile(bc.InputFile)
	if err != nil {
		return err
	}
	slog.Info("Read examples", "count", len(examples))

	sink, err := store.Open(bc.OutputFile)
	if err != nil {
		return err
	}
	defer sink.Close()

	p := pipeline.New(tok, enc, pipeline.Options{
		MaxSeqLength: bc.MaxSeqLength,
		BatchSize:    bc.BatchSize,
		Workers:      bc.Workers,
		TokensOnly:   bc.TokensOnly,
	})

	tokenInfo, runErr := p.Run(ctx, examples, sink)

	if bc.OutputIDsFile != "" && tokenInfo != nil {
		if err := store.WriteTokenInfo(bc.OutputIDsFile, tokenInfo); err != nil {
			return err
		}
		slog.Info("Wrote alignment side-channel", "path", bc.OutputIDsFile)
	}
	return runErr
}

// boolFlagPassed reports whether the named flag appeared on the command
// line, as opposed to holding its default.
func boolFlagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// newTokenizer prefers the sugarme WordPiece pipeline and falls back to the
// self-contained greedy matcher when it cannot be constructed.
func newTokenizer(bc config.BertConfig) (tokenizer.Tokenizer, error) {
	if swp, err := tokenizer.NewSugarWordPiece(bc.VocabFile, bc.DoLowerCase); err == nil {
		return swp, nil
	} else {
		slog.Warn("sugarme tokenizer unavailable, using built-in wordpiece", "error", err)
	}
	return tokenizer.LoadWordPieceFromVocab(bc.VocabFile, bc.DoLowerCase)
}
