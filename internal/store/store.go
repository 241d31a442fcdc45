// Package store persists test results and the rider's FTP.
package store

import (
	"context"
	"errors"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

// ErrNoResult is returned when a lookup finds nothing
var ErrNoResult = errors.New("no stored result")

// ResultStore accepts finished results and FTP updates. Failures are reported
// but callers treat them as non-critical.
type ResultStore interface {
	SaveResult(ctx context.Context, result ftp.TestResult) error
	SaveFTP(ctx context.Context, ftpWatts int) error
}

// MultiStore writes to every store and joins their errors
type MultiStore []ResultStore

var _ ResultStore = MultiStore(nil)

func (m MultiStore) SaveResult(ctx context.Context, result ftp.TestResult) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) SaveFTP(ctx context.Context, ftpWatts int) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveFTP(ctx, ftpWatts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and drops everything
type Discard struct{}

func (Discard) SaveResult(context.Context, ftp.TestResult) error { return nil }

func (Discard) SaveFTP(context.Context, int) error { return nil }
