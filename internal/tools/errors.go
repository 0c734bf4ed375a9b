package tools

import "fmt"

const (
	CodeToolNotFound  = -32601
	CodeInvalidParams = -32602
	CodeToolExecution = -32003
)

type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func NewToolNotFoundError(name string) *ToolError {
	return &ToolError{
		Code:    CodeToolNotFound,
		Message: fmt.Sprintf("Tool not found: %s", name),
	}
}

func NewInvalidParamsError(format string, args ...interface{}) *ToolError {
	return &ToolError{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewToolExecutionError(name string, err error) *ToolError {
	return &ToolError{
		Code:    CodeToolExecution,
		Message: fmt.Sprintf("Error executing tool %s: %v", name, err),
	}
}
