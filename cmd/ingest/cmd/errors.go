package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/OFFIS-RIT/simgraph/internal/pipeline"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/logger"
)

// failure carries an error out of a command together with the stack at the
// point it was caught and whether the pipeline already logged it.
type failure struct {
	err      error
	stack    []byte
	reported bool
	secrets  []string
}

func (f *failure) Error() string { return f.err.Error() }

func (f *failure) Unwrap() error { return f.err }

func fail(err error, reported bool, secrets []string) error {
	return &failure{err: err, stack: debug.Stack(), reported: reported, secrets: secrets}
}

// report logs err redacted, then the hint line. With --debug it also prints
// the unredacted chain and stack to stderr.
func report(log *logger.Logger, err error) {
	var f *failure
	if !errors.As(err, &f) {
		f = &failure{err: err, stack: debug.Stack()}
	}

	if !f.reported {
		kind, _ := ingesterr.KindOf(f.err)
		log.Error("Ingest failed", "event", "error", "kind", kind, "err", ingesterr.Redact(f.err.Error(), f.secrets...))
		log.Error(pipeline.HintMessage, "event", "error")
	}

	if debugMode {
		fmt.Fprintln(os.Stderr, "error chain:")
		for i, e := 0, f.err; e != nil; i, e = i+1, errors.Unwrap(e) {
			fmt.Fprintf(os.Stderr, "  %d: %T: %v\n", i, e, e)
		}
		fmt.Fprintf(os.Stderr, "stack:\n%s", f.stack)
	}
}
