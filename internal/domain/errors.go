package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrUnknownTool       = fmt.Errorf("unknown tool")
	ErrPlanner           = fmt.Errorf("planner call failed")
	ErrPlannerRateLimit  = fmt.Errorf("planner rate limit exceeded")
	ErrPlannerAuth       = fmt.Errorf("planner authentication failed")
	ErrMaxIterations     = fmt.Errorf("turn reached max planning iterations")
	ErrThreadNotFound    = fmt.Errorf("thread not found")
	ErrThreadBusy        = fmt.Errorf("thread has an unresolved pending approval")
	ErrNoPendingApproval = fmt.Errorf("no pending approval")
	ErrStaleApproval     = fmt.Errorf("pending approval no longer matches thread state")
	ErrToolFailure       = fmt.Errorf("tool execution failed")
	ErrProductNotFound   = fmt.Errorf("product not found")
	ErrInsufficientStock = fmt.Errorf("insufficient stock")
	ErrOrderNotFound     = fmt.Errorf("order not found")
	ErrNoCustomer        = fmt.Errorf("no customer id in context")
	ErrRateLimited       = fmt.Errorf("rate limit exceeded")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Orchestrator.Approve")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient planner error that may
// succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrPlannerRateLimit) || errors.Is(err, ErrPlanner)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeUnknownTool       ErrorCode = "UNKNOWN_TOOL"
	CodePlanner           ErrorCode = "PLANNER_FAILURE"
	CodePlannerRateLimit  ErrorCode = "PLANNER_RATE_LIMIT"
	CodePlannerAuth       ErrorCode = "PLANNER_AUTH"
	CodeMaxIterations     ErrorCode = "MAX_ITERATIONS"
	CodeThreadNotFound    ErrorCode = "THREAD_NOT_FOUND"
	CodeThreadBusy        ErrorCode = "THREAD_BUSY"
	CodeNoPendingApproval ErrorCode = "NO_PENDING_APPROVAL"
	CodeStaleApproval     ErrorCode = "STALE_APPROVAL"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
	CodeProductNotFound   ErrorCode = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeOrderNotFound     ErrorCode = "ORDER_NOT_FOUND"
	CodeNoCustomer        ErrorCode = "NO_CUSTOMER"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnknownTool:       CodeUnknownTool,
	ErrPlanner:           CodePlanner,
	ErrPlannerRateLimit:  CodePlannerRateLimit,
	ErrPlannerAuth:       CodePlannerAuth,
	ErrMaxIterations:     CodeMaxIterations,
	ErrThreadNotFound:    CodeThreadNotFound,
	ErrThreadBusy:        CodeThreadBusy,
	ErrNoPendingApproval: CodeNoPendingApproval,
	ErrStaleApproval:     CodeStaleApproval,
	ErrToolFailure:       CodeToolFailure,
	ErrProductNotFound:   CodeProductNotFound,
	ErrInsufficientStock: CodeInsufficientStock,
	ErrOrderNotFound:     CodeOrderNotFound,
	ErrNoCustomer:        CodeNoCustomer,
	ErrRateLimited:       CodeRateLimited,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
