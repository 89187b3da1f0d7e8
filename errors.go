package gamify

import "errors"

// Engine errors
var (
	// Lifecycle errors
	ErrNotRunning         = errors.New("engine is not running")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrShutdownTimeout    = errors.New("shutdown timed out")

	// Module errors
	ErrModuleRegistered = errors.New("module already registered")
	ErrModuleNotFound   = errors.New("module not found")
	ErrModuleNameEmpty  = errors.New("module name is empty")

	// Action dispatch errors
	ErrNoActionHandler = errors.New("no handler registered for action")
	ErrMissingUserID   = errors.New("action has no user id and the event carries none")

	// Configuration errors
	ErrUnknownStorageType = errors.New("unknown storage type")
	ErrUnsupportedFormat  = errors.New("unsupported config format")

	// Secret errors
	ErrSecretMissing = errors.New("secret not set")
)
