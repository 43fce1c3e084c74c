package personalize

import "context"

// Personalizer optionally rewrites a rendered message for one recipient.
// Any error is caught by the dispatch loop, which falls back to the
// template-substituted text; personalization failure never fails a send.
type Personalizer interface {
	Personalize(ctx context.Context, rendered, instruction, recipientName string) (string, error)
}

// Disabled is a Personalizer that always returns the rendered text as-is.
type Disabled struct{}

func (Disabled) Personalize(_ context.Context, rendered, _, _ string) (string, error) {
	return rendered, nil
}

var _ Personalizer = Disabled{}
