package registry

import (
	"errors"
	"fmt"
)

// Ошибки реестра.
var (
	// ErrNotFound — pipeline не зарегистрирован.
	ErrNotFound = errors.New("pipeline not found")

	// ErrDuplicateID — pipeline с таким ID уже зарегистрирован.
	ErrDuplicateID = errors.New("duplicate pipeline id")

	// ErrInvalidTrigger — trigger с повторяющимся ID или невалидным расписанием.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrInvalidTask — task без ID, с повторяющимся ID или без тела.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidPipeline — pipeline без ID, без tasks или с невалидной схемой параметров.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrSealed — регистрация после Seal.
	ErrSealed = errors.New("registry is sealed")
)

// RegistrationError — pipeline отклонён при регистрации.
//
// Kind — одна из ошибок выше, проверяется через errors.Is.
type RegistrationError struct {
	PipelineID string
	Kind       error
	Detail     string
}

func (e *RegistrationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("register pipeline %q: %v", e.PipelineID, e.Kind)
	}
	return fmt.Sprintf("register pipeline %q: %v: %s", e.PipelineID, e.Kind, e.Detail)
}

func (e *RegistrationError) Unwrap() error {
	return e.Kind
}

func regErr(pipelineID string, kind error, format string, args ...any) *RegistrationError {
	return &RegistrationError{
		PipelineID: pipelineID,
		Kind:       kind,
		Detail:     fmt.Sprintf(format, args...),
	}
}
