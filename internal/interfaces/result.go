package interfaces

// Result is the structured outcome returned by every exposed operation.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Ok(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func OkMessage(message string) Result {
	return Result{Success: true, Message: message}
}

func Fail(message string) Result {
	return Result{Success: false, Message: message}
}
