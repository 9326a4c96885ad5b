package chrome

import "errors"

// Session errors - returned while driving a page
var (
	ErrNavigateFailed = errors.New("navigation failed")
	ErrScriptFailed   = errors.New("script evaluation failed")
	ErrNoSuchTarget   = errors.New("browser target not found")
)

// Pool errors - returned during browser instance management
var (
	ErrPoolShutdown  = errors.New("pool is shutting down")
	ErrInstanceDead  = errors.New("browser instance is dead")
	ErrRestartFailed = errors.New("browser restart failed")
)
