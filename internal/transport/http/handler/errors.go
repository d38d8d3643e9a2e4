package handler

const (
	errInternalServer    = "Internal server error"
	errDuplicateInstance = "A task with this name already exists"
)
