package joblet

import (
	"context"
	"io"
	"os"
)

// Output is where a joblet writes its stdout and stderr.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

type outputKey struct{}

// WithOutput attaches joblet output writers to ctx.
func WithOutput(ctx context.Context, out Output) context.Context {
	return context.WithValue(ctx, outputKey{}, out)
}

// OutputFrom returns the writers attached to ctx, falling back to the
// process's own stdout and stderr.
func OutputFrom(ctx context.Context) Output {
	out, _ := ctx.Value(outputKey{}).(Output)
	if out.Stdout == nil {
		out.Stdout = os.Stdout
	}
	if out.Stderr == nil {
		out.Stderr = os.Stderr
	}
	return out
}
