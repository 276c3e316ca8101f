// Package cliutil maps kira's domain errors onto the typed process exit
// codes spec.md §6 prescribes, and holds the small set of cross-command CLI
// flags (--json, --trace-id, --dry-run, --yes) every kira-host subcommand
// accepts.
package cliutil

import (
	"errors"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/internal/policy"
)

// ExitCode is one of the process exit codes spec.md §6 names.
type ExitCode int

const (
	ExitSuccess          ExitCode = 0
	ExitValidation       ExitCode = 2
	ExitIdempotentNoOp   ExitCode = 3
	ExitFSMGuardViolation ExitCode = 4
	ExitIOOrLock         ExitCode = 5
	ExitPolicyViolation  ExitCode = 6
	ExitUnknown          ExitCode = 7
)

// FromError classifies err into the exit code a kira-host command should
// return. A nil err is ExitSuccess; every other case inspects err's
// concrete type/code before falling back to ExitUnknown.
func FromError(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}

	var violation *policy.Violation
	if errors.As(err, &violation) {
		return ExitPolicyViolation
	}

	if se := kerrors.GetServiceError(err); se != nil {
		switch se.Code {
		case kerrors.ErrCodeInvalidInput, kerrors.ErrCodeMissingParameter, kerrors.ErrCodeInvalidFormat,
			kerrors.ErrCodeOutOfRange, kerrors.ErrCodeNotFound:
			return ExitValidation
		case kerrors.ErrCodeInvalidTransition:
			return ExitFSMGuardViolation
		case kerrors.ErrCodePolicyDenied:
			return ExitPolicyViolation
		case kerrors.ErrCodeConflict, kerrors.ErrCodeAlreadyExists, kerrors.ErrCodeDuplicateEvent:
			return ExitIdempotentNoOp
		case kerrors.ErrCodeTimeout, kerrors.ErrCodeInternal, kerrors.ErrCodeExternalAPI:
			return ExitIOOrLock
		}
	}

	return ExitUnknown
}
