package collab

import "github.com/pkg/errors"

var (
	// ErrSceneNotReady is returned when the scene cannot be read or mutated yet.
	// StartSession callers may retry.
	ErrSceneNotReady = errors.New("scene is not ready")
	// ErrSessionInProgress is returned by StartSession while joining or active.
	ErrSessionInProgress = errors.New("session already joining or active")
	// ErrJoinRejected covers every failed JOIN request.
	ErrJoinRejected = errors.New("room rejected join")
	// ErrStreamFailed is returned when the inbound stream errors, either
	// before it opened or while the session was active.
	ErrStreamFailed = errors.New("room stream failed")
	// ErrBroadcastRejected covers every failed UPDATE_SCENE broadcast.
	ErrBroadcastRejected = errors.New("room rejected broadcast")
	// ErrNoSession is returned when there is no active session to act on.
	ErrNoSession = errors.New("no active session")
)
