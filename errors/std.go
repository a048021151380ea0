package errors

import stderrors "errors"

// Is reports whether any error in err's chain matches original. If original is
// an *Error, the comparison is made against the error it wraps.
func Is(err, original error) bool {
	if o, ok := original.(*Error); ok {
		if stderrors.Is(err, o) {
			return true
		}
		original = o.Err
	}
	return stderrors.Is(err, original)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
