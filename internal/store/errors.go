package store

import (
	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
)

// Sentinel errors. Both match their domain counterparts with errors.Is.
var (
	ErrNotFound      = domainerrors.NotFound("record not found")
	ErrAlreadyExists = domainerrors.AlreadyExistsf("record already exists")
)
