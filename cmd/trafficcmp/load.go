package main

import (
	"errors"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/internal/printer"
	"github.com/funnyzak/trafficcmp/internal/storage"
)

const stdinPath = "-"

var loadCmd = &cobra.Command{
	Use:   "load [files...]",
	Short: "Load replayer logs and print each triple",
	Long: `Load one or more replayer log files in order. Lines that cannot be parsed are skipped
and reported in the summary; a file that cannot be read stops the load.

With no files, or with "-", triples are read from standard input as they arrive.`,
	RunE: runLoad,
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Input.Files = args
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)

	l, err := loader.Lookup(loader.ParseFormat(cfg.Input.Format), log)
	if err != nil {
		return err
	}

	p := printer.New(cfg.Output.Mode, log, &cfg.Output)

	var store storage.Store
	if cfg.Storage.Enable {
		store, err = storage.New(&cfg.Storage, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
	}

	stdin, err := readsStdin(cfg.Input.Files)
	if err != nil {
		return err
	}
	if stdin {
		log.Debug("Reading triples from standard input", "format", cfg.Input.Format)
		return streamTriples(loader.LoadFromStdin(l), p, store, log)
	}
	return loadFiles(l, cfg, p, store, log)
}

// readsStdin reports whether input comes from standard input rather than files.
func readsStdin(files []string) (bool, error) {
	switch {
	case len(files) == 0:
		return true, nil
	case len(files) == 1 && files[0] == stdinPath:
		return true, nil
	}
	for _, f := range files {
		if f == stdinPath {
			return false, errors.New("standard input (-) cannot be combined with log files")
		}
	}
	return false, nil
}

func loadFiles(l loader.Loader, cfg *config.Config, p printer.Printer, store storage.Store, log logger.Logger) error {
	result, err := l.Load(cfg.Input.Files)
	if err != nil {
		return fmt.Errorf("load log files: %w", err)
	}

	for _, primary := range result.Primary {
		if err := p.PrintTriple(primary); err != nil {
			return err
		}
	}

	if store != nil {
		n, err := store.RecordStreams(result.Primary, result.Shadow)
		if err != nil {
			return fmt.Errorf("store triples: %w", err)
		}
		log.Info("Stored triples", "count", n, "path", cfg.Storage.Path)
	}

	return p.PrintSummary(result)
}

// streamTriples prints triples as they are parsed. Lines that fail to parse are
// logged and skipped; a read failure ends the stream with an error.
func streamTriples(triples iter.Seq2[loader.Triple, error], p printer.Printer, store storage.Store, log logger.Logger) error {
	result := &loader.Result{}
	line := 0
	for triple, err := range triples {
		if err != nil {
			if !loader.IsParseError(err) {
				return fmt.Errorf("read standard input: %w", err)
			}
			result.Skipped = append(result.Skipped, &loader.LineError{Path: stdinPath, Line: line, Err: err})
			log.Warn("Skipping log line that could not be loaded", "line", line, "error", err)
			line++
			continue
		}
		line++

		result.Primary.Append(triple.Primary)
		result.Shadow.Append(triple.Shadow)
		if err := p.PrintTriple(triple.Primary); err != nil {
			return err
		}
		if store != nil {
			if _, err := store.Record(triple.Primary); err != nil {
				return fmt.Errorf("store triple: %w", err)
			}
		}
	}
	return p.PrintSummary(result)
}
