package http

import "errors"

var errInvalidPayload = errors.New("invalid payload")
