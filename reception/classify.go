package reception

import (
	"errors"
	"strings"
)

// Resolution is the recovery action derived from a decryption failure.
type Resolution int

const (
	ResolutionIgnore Resolution = iota
	ResolutionRecoverSession
	ResolutionOutOfSync
	ResolutionInformUser
)

func (r Resolution) String() string {
	switch r {
	case ResolutionIgnore:
		return "ignore"
	case ResolutionRecoverSession:
		return "recover-session"
	case ResolutionOutOfSync:
		return "out-of-sync"
	case ResolutionInformUser:
		return "inform-user"
	default:
		return "unknown"
	}
}

// ClassifyPairwiseFailure maps a pairwise engine failure to a recovery action. These
// tables encode hard-won protocol knowledge, change them only against engine behavior.
func ClassifyPairwiseFailure(err *CryptoError) Resolution {
	switch err.Code {
	case ErrCodeDuplicateMessage, ErrCodeTooDistantFuture, ErrCodeOutdatedMessage:
		return ResolutionIgnore
	case ErrCodeSessionNotFound, ErrCodeStorageError, ErrCodePrekeyNotFound,
		ErrCodeLocalFilesNotFound, ErrCodePanic:
		return ResolutionRecoverSession
	default:
		// The engine sometimes reports duplicates through a generic error instead of its
		// duplicate code, so the message text is checked before surfacing anything to the
		// user. This papers over an engine contract gap, see DESIGN.md.
		if isDuplicateEcho(err) {
			return ResolutionIgnore
		}
		return ResolutionInformUser
	}
}

// ClassifyGroupFailure maps a group engine failure to a recovery action.
func ClassifyGroupFailure(err *CryptoError) Resolution {
	switch err.Code {
	case ErrCodeWrongEpoch:
		return ResolutionOutOfSync
	case ErrCodeDuplicateMessage, ErrCodeBufferedFutureMessage, ErrCodeSelfCommitIgnored,
		ErrCodeUnmergedPendingGroup, ErrCodeStaleProposal, ErrCodeStaleCommit,
		ErrCodeMessageEpochTooOld:
		return ResolutionIgnore
	default:
		return ResolutionInformUser
	}
}

func isDuplicateEcho(err error) bool {
	for e := error(err); e != nil; e = errors.Unwrap(e) {
		if strings.Contains(e.Error(), "DuplicateMessage") {
			return true
		}
	}
	return false
}
