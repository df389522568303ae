package oracle

import (
	"context"
	"fmt"
)

// Fixed answers every item of a label set with the same verdict, keyed by LabelSet.Name
type Fixed map[string]Verdict

// Judge implements Oracle
func (f Fixed) Judge(ctx context.Context, batch []string, instructions string, labels LabelSet) ([]Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := f[labels.Name]
	if !ok {
		return nil, fmt.Errorf("fixed oracle: no verdict for %q", labels.Name)
	}
	out := make([]Verdict, len(batch))
	for i := range batch {
		out[i] = Verdict{Labels: append([]string(nil), v.Labels...), Rationale: v.Rationale, Err: v.Err}
	}
	return out, nil
}

// Func adapts a per-item function to an Oracle. An error from the function
// becomes the item's Verdict.Err.
type Func func(ctx context.Context, text, instructions string, labels LabelSet) (Verdict, error)

// Judge implements Oracle
func (f Func) Judge(ctx context.Context, batch []string, instructions string, labels LabelSet) ([]Verdict, error) {
	out := make([]Verdict, len(batch))
	for i, text := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := f(ctx, text, instructions, labels)
		if err != nil {
			v = Verdict{Err: err}
		}
		out[i] = v
	}
	return out, nil
}
