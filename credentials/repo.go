package credentials

import "errors"

// ErrNotFound is returned by a Repo when no token has been persisted
var ErrNotFound = errors.New("credential not found")

// Repo persists the session token across process restarts.
type Repo interface {
	// Get returns the persisted token or ErrNotFound
	Get() (string, error)

	// Put replaces the persisted token
	Put(token string) error

	// Delete removes the persisted token; deleting a missing token is not an error
	Delete() error
}
