package apitest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var errUserNotFound = errors.New("user not found")

// User is a backend account as the fake server stores it
type User struct {
	ID           string
	Email        string
	PasswordHash string

	LinkedAccountEmail string
	IsPremium          bool
	IsAdmin            bool
	SubscriptionStatus string
	TrialEndsAt        *time.Time
	DateJoined         time.Time
}

func (u *User) HasLinkedAccount() bool {
	return u.LinkedAccountEmail != ""
}

// ValidatePasswordStrength checks if password meets the registration rules:
// - At least 8 characters long
// - Contains a letter and a number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var hasLetter, hasNumber bool
	for _, char := range password {
		if unicode.IsLetter(char) {
			hasLetter = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasLetter {
		return fmt.Errorf("password must contain at least one letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	// MinCost keeps test suites fast; the fake never stores real secrets
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// userStore is the fake backend's user table keyed by lowercased email
type userStore struct {
	lock  sync.RWMutex
	users map[string]*User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[string]*User)}
}

func (s *userStore) create(email, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		return nil, errors.New("Email already registered")
	}
	u := &User{
		ID:                 uuid.New().String(),
		Email:              email,
		PasswordHash:       hash,
		SubscriptionStatus: "inactive",
		DateJoined:         NowTimeFunc(),
	}
	s.users[key] = u
	return u, nil
}

func (s *userStore) get(email string) (User, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return User{}, errUserNotFound
	}
	return *u, nil
}

func (s *userStore) update(email string, mutate func(*User)) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return errUserNotFound
	}
	mutate(u)
	return nil
}
