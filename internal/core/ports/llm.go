package ports

import "context"

// Completer is a text-completion language model: given a prompt it returns a completion
// or fails. Its output is free text and must be treated as untrusted.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
