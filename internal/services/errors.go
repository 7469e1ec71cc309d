package services

import "errors"

const invalidCredentialsMessage = "invalid credentials"

var (
	// ErrUserNotFound and ErrInvalidCredentials carry the same message so a
	// caller that only prints errors cannot tell them apart.
	ErrUserNotFound       = errors.New(invalidCredentialsMessage)
	ErrInvalidCredentials = errors.New(invalidCredentialsMessage)
	ErrInvalidTOTP        = errors.New("invalid second factor code")
	ErrAccountNotFound    = errors.New("user account not found")
	ErrAccountLocked      = errors.New("account locked")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrReauthRequired     = errors.New("current password and code required")

	ErrPersonNotFound      = errors.New("person not found")
	ErrPersonInactive      = errors.New("person is not active")
	ErrPersonAlreadyLinked = errors.New("person already linked to another account")
	ErrDuplicateBiometric  = errors.New("iris template matches an enrolled person")
	ErrDuplicateName       = errors.New("a person with this name is already enrolled")
	ErrDuplicateVoterID    = errors.New("voter id already enrolled")
	ErrInvalidTemplate     = errors.New("invalid iris template")

	ErrAlreadyVoted    = errors.New("person has already voted in this election")
	ErrNotVerified     = errors.New("session did not verify a person")
	ErrNoCapture       = errors.New("session captured no iris")
	ErrInvalidElection = errors.New("invalid election id")

	ErrChainBroken = errors.New("audit chain broken")
)
