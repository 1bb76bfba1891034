// Package classify maps job and dispatch failures onto the small error taxonomy
// users see in follow-up messages.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the user-facing error category.
type Kind string

const (
	KindNone         Kind = ""
	KindValidation   Kind = "validation"
	KindCollaborator Kind = "collaborator"
	KindNotReady     Kind = "not_ready"
	KindTimeout      Kind = "timeout"
)

// ValidationError is bad user input. Its message is shown verbatim.
type ValidationError struct {
	Code    string // UnknownCommand, MissingParameter, TypeMismatch, InvalidSymbol
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Param, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CollaboratorError wraps a failure raised inside the analysis or review program.
// A nil Err means the collaborator reported failure without raising.
type CollaboratorError struct {
	Op  string // Chinese operation label, e.g. "分析" or "大盘复盘"
	Err error
}

func (e *CollaboratorError) Error() string {
	if e.Err == nil {
		return e.Op + " reported failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NotReadyError is returned for commands that arrive before the bot finished startup sync.
type NotReadyError struct {
	State string
}

func (e *NotReadyError) Error() string {
	return "bot not ready (state " + e.State + ")"
}

// TimeoutError means the job outlived its operational deadline. The job may still be running.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s still running after %s", e.Op, e.After)
}

// Classify returns the error kind and the message shown to the user.
// Unknown errors are treated as collaborator failures so nothing escapes unclassified.
func Classify(err error) (Kind, string) {
	if err == nil {
		return KindNone, ""
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		if validation.Code == CodeInvalidSymbol {
			return KindValidation, "❌ 股票代码错误：" + validation.Message
		}
		return KindValidation, "❌ 参数错误：" + validation.Message
	}

	var notReady *NotReadyError
	if errors.As(err, &notReady) {
		return KindNotReady, "⏳ 机器人正在启动，请稍后再试。"
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return KindTimeout, fmt.Sprintf("⏳ %s仍在运行中，请稍后再试。", timeout.Op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, "⏳ 任务仍在运行中，请稍后再试。"
	}

	var collab *CollaboratorError
	if errors.As(err, &collab) {
		if collab.Err == nil {
			return KindCollaborator, fmt.Sprintf("❌ %s失败！", collab.Op)
		}
		return KindCollaborator, fmt.Sprintf("❌ %s过程中发生错误：%s", collab.Op, collab.Err.Error())
	}

	return KindCollaborator, "❌ 处理过程中发生错误：" + err.Error()
}

// Validation error codes.
const (
	CodeUnknownCommand   = "UnknownCommand"
	CodeMissingParameter = "MissingParameter"
	CodeTypeMismatch     = "TypeMismatch"
	CodeInvalidSymbol    = "InvalidSymbol"
	CodeDuplicateCommand = "DuplicateCommand"
)
