package services

import "errors"

var (
	ErrNotAdmin          = errors.New("only the admin can do that")
	ErrNotQuestioner     = errors.New("only the current questioner can do that")
	ErrWrongPhase        = errors.New("action not allowed in the current phase")
	ErrNoPlayers         = errors.New("no connected players")
	ErrNotConnected      = errors.New("player is not connected")
	ErrUnknownQuestion   = errors.New("question is not one of the candidates")
	ErrNoQuestion        = errors.New("no active question")
	ErrNotSynced         = errors.New("question has not reached this peer yet")
	ErrEmptyQuestionBank = errors.New("question bank is empty")
	ErrInvalidQuestion   = errors.New("question needs text and a category")
)
