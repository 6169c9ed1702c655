package mongoutil

import "IMStore/tools/errs"

var (
	ErrMissingAddress  = errs.New("mongo uri or address is required")
	ErrMissingDatabase = errs.New("mongo database name is required")
)
