package services

import "errors"

// Error taxonomy for the compliance domain. Handlers and the CLI map these
// to status / exit codes; everything else wraps them with %w.
var (
	ErrSourceNotFound    = errors.New("legislation source not found")
	ErrDigestNotFound    = errors.New("legislation digest not found")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrCheckNotFound     = errors.New("compliance check not found")
	ErrCollisionNotFound = errors.New("rule collision not found")

	// ErrActivationConflict: a concurrent re-derivation or digest activation
	// holds the source lock. Fail fast; the caller retries.
	ErrActivationConflict = errors.New("concurrent digest activation on source")

	// ErrJudgmentUnavailable: the judgment collaborator failed after retries.
	ErrJudgmentUnavailable = errors.New("judgment collaborator unavailable")

	// ErrMalformedJudgment: the collaborator returned an unparsable payload
	// or out-of-range confidence. Individual entries are skipped and logged;
	// this error surfaces only when the whole payload is unusable.
	ErrMalformedJudgment = errors.New("malformed judgment payload")

	ErrCollisionResolved = errors.New("collision already resolved")
)

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedJudgment)
}
