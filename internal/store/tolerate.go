package store

import "errors"

// Tolerate swallows err when it matches one of the benign outcomes, so a
// best-effort step can be written as a single call. Any other error, including
// nil, is returned unchanged.
func Tolerate(err error, benign ...error) error {
	if err == nil {
		return nil
	}
	for _, b := range benign {
		if errors.Is(err, b) {
			return nil
		}
	}
	return err
}
