package sheet

import "errors"

var (
	ErrSheetNotFound  = errors.New("sheet not found")
	ErrDuplicateSheet = errors.New("sheet id already exists")
	ErrDuplicateName  = errors.New("sheet name already in use")
	ErrInvalidName    = errors.New("invalid sheet name")
	ErrInvalidKey     = errors.New("invalid order key")
	ErrLastSheet      = errors.New("cannot remove the last sheet")
)
