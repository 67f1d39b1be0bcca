package errors

// Code represents an error code
type Code string

// Error codes used across the workflow core
const (
	CodeUnknown              Code = "UNKNOWN"               // Unknown error occurred
	CodeInternalError        Code = "INTERNAL_ERROR"        // Internal system error
	CodeValidationFailed     Code = "VALIDATION_FAILED"     // Input validation failed
	CodeInvalidParameter     Code = "INVALID_PARAMETER"     // Invalid parameter provided
	CodeIoError              Code = "IO_ERROR"              // Input/output operation failed
	CodeNotFound             Code = "NOT_FOUND"             // Resource not found
	CodeAlreadyExists        Code = "ALREADY_EXISTS"        // Resource already exists
	CodeResourceExhausted    Code = "RESOURCE_EXHAUSTED"    // Resource limit exceeded
	CodeInvalidState         Code = "INVALID_STATE"         // Invalid state transition
	CodeImageBuildFailed     Code = "IMAGE_BUILD_FAILED"    // Image build failed
	CodeImagePushFailed      Code = "IMAGE_PUSH_FAILED"     // Image push failed
	CodeToolExecutionFailed  Code = "TOOL_EXECUTION_FAILED" // Tool execution failed
	CodeOperationFailed      Code = "OPERATION_FAILED"      // Operation failed
	CodeTimeoutError         Code = "TIMEOUT_ERROR"         // Timeout error
	CodeStrategyUnavailable  Code = "STRATEGY_UNAVAILABLE"  // No client strategy available
	CodeWorkflowFailed       Code = "WORKFLOW_FAILED"       // Workflow execution failed
	CodeWorkflowRunning      Code = "WORKFLOW_RUNNING"      // Workflow already running for session
	CodeSessionExpired       Code = "SESSION_EXPIRED"       // Session has expired
	CodeScanFailed           Code = "SCAN_FAILED"           // Security scan failed
	CodeDeploymentFailed     Code = "DEPLOYMENT_FAILED"     // Deployment failed
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID" // Configuration invalid
)
