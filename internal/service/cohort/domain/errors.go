package domain

import "errors"

var ErrInvalidParameter = errors.New("invalid report parameter")
