package api

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	sessionIDPrefix = "sess_"
	replayIDPrefix  = "replay_"
)

var (
	sessionIDPattern = regexp.MustCompile(`^sess_[a-zA-Z0-9]{24}$`)
	replayIDPattern  = regexp.MustCompile(`^replay_[a-zA-Z0-9]{24}$`)
)

// NewExecutionID generates a new execution identifier. Spec requires this
// to be a UUID, so it is minted directly from google/uuid rather than the
// prefixed-alphanumeric scheme used for session and replay IDs.
func NewExecutionID() string {
	return uuid.NewString()
}

// NewJobID generates a new asynchronous job identifier, also a UUID.
func NewJobID() string {
	return uuid.NewString()
}

// NewSessionID generates a new session ID with the "sess_" prefix followed
// by 24 cryptographically random alphanumeric characters.
func NewSessionID() string {
	return sessionIDPrefix + randomAlphanumeric(idLength)
}

// NewReplayID generates a new replay record ID with the "replay_" prefix.
func NewReplayID() string {
	return replayIDPrefix + randomAlphanumeric(idLength)
}

// ValidateSessionID checks whether id matches the session ID shape.
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ValidateReplayID checks whether id matches the replay ID shape.
func ValidateReplayID(id string) bool {
	return replayIDPattern.MatchString(id)
}

// ValidateExecutionID checks whether id is a well-formed UUID.
func ValidateExecutionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
