package explain

import (
	"errors"

	"github.com/fabfab/codexplain/conversation"
)

// ErrInvalidInput matches every error caused by the caller's request rather
// than by a provider or the store.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrEmptyCode             error = &inputError{msg: "there is no code to explain"}
	ErrMissingConversation   error = &inputError{msg: "no conversation selected, create or load one first"}
	ErrInvalidConversationID error = &inputError{msg: "conversation id must be a positive integer"}
	ErrConversationNotFound  error = &inputError{msg: "conversation not found", cause: conversation.ErrNotFound}
	ErrEmptyQuery            error = &inputError{msg: "search query is empty"}

	ErrSearchUnavailable = errors.New("search requires embeddings and the postgres store")
	ErrGraphUnavailable  = errors.New("graph mirror is not enabled")
)

type inputError struct {
	msg   string
	cause error
}

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Is(target error) bool {
	return target == ErrInvalidInput || (e.cause != nil && target == e.cause)
}
