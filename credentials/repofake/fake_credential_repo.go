package repofake

import (
	"errors"
	"sync"

	"github.com/jrsteele09/go-coach-engine/credentials"
)

var _ credentials.Repo = (*FakeCredentialRepo)(nil)

type FakeCredentialRepo struct {
	token  string
	lock   sync.RWMutex
	delErr error
}

func NewFakeCredentialRepo() *FakeCredentialRepo {
	return &FakeCredentialRepo{}
}

// NewFakeCredentialRepoWithToken simulates a token left behind by a previous process
func NewFakeCredentialRepoWithToken(token string) *FakeCredentialRepo {
	return &FakeCredentialRepo{token: token}
}

func (r *FakeCredentialRepo) Get() (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.token == "" {
		return "", credentials.ErrNotFound
	}
	return r.token, nil
}

func (r *FakeCredentialRepo) Put(token string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if token == "" {
		return errors.New("empty token")
	}
	r.token = token
	return nil
}

func (r *FakeCredentialRepo) Delete() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.delErr != nil {
		return r.delErr
	}
	r.token = ""
	return nil
}

// Persisted returns what a restarted process would read
func (r *FakeCredentialRepo) Persisted() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.token
}

// FailDeletes makes Delete return err until reset with nil
func (r *FakeCredentialRepo) FailDeletes(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.delErr = err
}
