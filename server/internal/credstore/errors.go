package credstore

import "errors"

var (
	errDuplicateToken   = errors.New("credstore: duplicate token hash")
	errDuplicateSession = errors.New("credstore: duplicate session id")
)
