package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on unique constraint violations.
var ErrAlreadyExists = errors.New("already exists")

// ErrNoEncryptionKey is returned when an encrypted write is attempted
// without a configured token_encryption_key.
var ErrNoEncryptionKey = errors.New("token_encryption_key is required for encrypted writes")
