package main

import (
	"context"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/internal/server"
	"github.com/funnyzak/trafficcmp/internal/storage"
	"github.com/funnyzak/trafficcmp/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve [files...]",
	Short: "Serve stored triples over HTTP",
	Long: `Serve the triples in the SQLite database over an HTTP API. Any log files given are
loaded into the database first and every new triple is pushed to websocket clients.
Use "-" to keep reading triples from standard input while serving.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Listen port")
	serveCmd.Flags().String("api-path", "", "URL path prefix of the API")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.api_path", serveCmd.Flags().Lookup("api-path"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Input.Files = args
	cfg.Storage.Enable = true
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.NewLogger(&cfg.Log, cfg.Output.Mode)

	triples, err := serveInput(cfg.Input.Format, args, log)
	if err != nil {
		return err
	}

	store, err := storage.New(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	svc := web.NewService(&cfg.Server, store, log)
	srv := server.New(&cfg.Server, svc, log)
	if _, err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	if triples != nil {
		// reading stdin cannot be interrupted, so ingestion runs detached and
		// the group only waits for it until shutdown begins
		group.Go(func() error {
			done := make(chan error, 1)
			go func() {
				err := ingest(groupCtx, triples, store, svc, log)
				if err != nil && groupCtx.Err() != nil {
					log.Warn("Ingestion stopped after shutdown", "error", err)
				}
				done <- err
			}()
			select {
			case err := <-done:
				return err
			case <-groupCtx.Done():
				return nil
			}
		})
	}

	return group.Wait()
}

// serveInput resolves what serve should ingest; nil means nothing.
func serveInput(format string, args []string, log logger.Logger) (iter.Seq2[loader.Triple, error], error) {
	if len(args) == 0 {
		return nil, nil
	}
	l, err := loader.Lookup(loader.ParseFormat(format), log)
	if err != nil {
		return nil, err
	}
	stdin, err := readsStdin(args)
	if err != nil {
		return nil, err
	}
	if stdin {
		return loader.LoadFromStdin(l), nil
	}
	result, err := l.Load(args)
	if err != nil {
		return nil, fmt.Errorf("load log files: %w", err)
	}
	return resultTriples(result), nil
}

// resultTriples replays a batch result as a sequence of triples.
func resultTriples(result *loader.Result) iter.Seq2[loader.Triple, error] {
	return func(yield func(loader.Triple, error) bool) {
		for i, primary := range result.Primary {
			if !yield(loader.Triple{Primary: primary, Shadow: result.Shadow[i]}, nil) {
				return
			}
		}
	}
}

// ingest stores each triple and publishes it to websocket clients.
func ingest(ctx context.Context, triples iter.Seq2[loader.Triple, error], store storage.Store, svc *web.Service, log logger.Logger) error {
	count := 0
	for triple, err := range triples {
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if !loader.IsParseError(err) {
				return fmt.Errorf("read triples: %w", err)
			}
			log.Warn("Skipping log line that could not be loaded", "error", err)
			continue
		}
		stored, err := store.Record(triple.Primary)
		if err != nil {
			if ctx.Err() != nil {
				// the store is closed once shutdown begins
				log.Debug("Dropping triple received during shutdown", "error", err)
				return nil
			}
			return fmt.Errorf("store triple: %w", err)
		}
		svc.Publish(stored)
		count++
	}
	log.Info("Finished loading triples", "count", count)
	return nil
}
