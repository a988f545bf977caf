// Command joingraph answers one hotel guest request with the reservation
// workflow and prints the merged answer.
//
//	joingraph "Is my reservation for Ana Silva confirmed?"
//	echo "Are pets allowed?" | joingraph
//	joingraph -run-id front-desk-7 "And is breakfast included?"
//	joingraph -run-id front-desk-7 -resume
//
// Configuration comes from JOINGRAPH_* environment variables and an optional
// config file named by JOINGRAPH_CONFIG. Without an API key the built-in
// scripted model answers offline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/randalmurphal/joingraph/internal/reservation"
	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("joingraph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run-id", "", "conversation to continue, or the identifier of a new one (default: random)")
	resume := fs.Bool("resume", false, "continue the run named by -run-id from its latest checkpoint")
	transcript := fs.Bool("transcript", false, "print the whole shared conversation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resume && *runID == "" {
		return errors.New("-resume requires -run-id")
	}

	envCfg, err := loadEnv()
	if err != nil {
		return err
	}
	logger, err := newLogger(envCfg.LogLevel, envCfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	settings, runOpts, err := loadSettings(envCfg)
	if err != nil {
		return err
	}

	shutdown, err := observability.Setup(ctx, "joingraph", envCfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, err := openStore(ctx, envCfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		defer store.Close()
	} else if *resume {
		return errors.New("-resume needs a checkpoint backend")
	}

	client, err := reservation.NewClient(reservation.Models(), settings)
	if err != nil {
		return err
	}
	db, err := reservation.OpenDB(ctx, settings.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	wf := &reservation.Workflow{
		Settings: settings,
		Client:   client,
		DB:       db,
		Metrics:  observability.NoopMetrics{},
		Spans:    observability.NoopSpanManager{},
	}
	if envCfg.Metrics {
		wf.Metrics = observability.NewMetricsRecorder()
		runOpts = append(runOpts, joingraph.WithMetricsRecorder(wf.Metrics))
	}
	if envCfg.OTelEndpoint != "" {
		wf.Spans = observability.NewSpanManager()
		runOpts = append(runOpts, joingraph.WithTracing(true))
	}

	compiled, err := wf.Compile()
	if err != nil {
		return err
	}

	if *runID == "" {
		*runID = uuid.NewString()
	}
	runOpts = append(runOpts, joingraph.WithRunID(*runID), joingraph.WithObservabilityLogger(logger))
	if store != nil {
		runOpts = append(runOpts, joingraph.WithCheckpointing(store))
	}

	runCtx, cancel := context.WithTimeout(ctx, envCfg.Timeout)
	defer cancel()
	jctx := joingraph.NewContext(runCtx,
		joingraph.WithLogger(logger),
		joingraph.WithContextRunID(*runID),
	)

	var snap state.Snapshot
	if *resume {
		snap, err = compiled.Resume(jctx, store, *runID, runOpts...)
	} else {
		question, qerr := readQuestion(fs.Args(), stdin)
		if qerr != nil {
			return qerr
		}
		snap, err = ask(jctx, compiled, store, *runID, question, runOpts)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", *runID, err)
	}

	if *transcript {
		return printTranscript(stdout, state.Seq[llm.Message](snap, reservation.FieldMessages))
	}
	answer := reservation.Answer(snap)
	if answer.Content == "" {
		return fmt.Errorf("run %s ended without an answer", *runID)
	}
	_, err = fmt.Fprintln(stdout, answer.Content)
	return err
}

// ask continues the conversation saved under runID, or starts it when the
// store has none.
func ask(ctx joingraph.Context, compiled *joingraph.CompiledGraph, store checkpoint.Store, runID, question string, opts []joingraph.RunOption) (state.Snapshot, error) {
	if store != nil {
		_, snap, err := reservation.FollowUp(ctx, compiled, store, runID, question, opts...)
		if !errors.Is(err, joingraph.ErrNoCheckpoints) {
			return snap, err
		}
	}
	_, snap, err := reservation.Ask(ctx, compiled, question, opts...)
	return snap, err
}

// readQuestion takes the question from the arguments, or from stdin when
// there are none.
func readQuestion(args []string, stdin io.Reader) (string, error) {
	question := strings.Join(args, " ")
	if question == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read question: %w", err)
		}
		question = string(data)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("no question given")
	}
	return question, nil
}

func printTranscript(w io.Writer, msgs []llm.Message) error {
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}
