package domain

import (
	"fmt"
	"strings"
)

// FieldError — ошибка одного параметра.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError — параметры run не прошли проверку схемой.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid params: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// TaskExecutionError — task вернул ошибку или запаниковал.
type TaskExecutionError struct {
	TaskID string
	Detail ErrorDetail
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %s", e.TaskID, e.Detail.Message)
}
