package roster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Failure kinds reported by Classify.
const (
	FailureNotFound         = "not_found"
	FailurePermissionDenied = "permission_denied"
	FailureCredentials      = "credentials"
	FailureRateLimit        = "rate_limit"
	FailureNetwork          = "network"
	FailureEmpty            = "empty"
	FailureUnknown          = "unknown"
)

// ErrNotConfigured is returned when no spreadsheet id is set.
var ErrNotConfigured = errors.New("roster: spreadsheet id not configured")

// SheetsConfig identifies a spreadsheet range and the service account used
// to read it. An existing CredentialsFile is preferred; CredentialsJSON is
// used when the file is absent.
type SheetsConfig struct {
	CredentialsFile string
	CredentialsJSON string
	SpreadsheetID   string
	SheetName       string
	Range           string
}

// SheetsSource reads roster rows from Google Sheets with read-only scope.
type SheetsSource struct {
	cfg SheetsConfig

	mu      sync.Mutex
	service *sheets.Service
	// newService is replaced in tests.
	newService func(ctx context.Context, opts ...option.ClientOption) (*sheets.Service, error)
}

// NewSheetsSource returns a source for cfg. The API client is created on
// first use.
func NewSheetsSource(cfg SheetsConfig) *SheetsSource {
	if cfg.SheetName == "" {
		cfg.SheetName = "Sheet1"
	}
	if cfg.Range == "" {
		cfg.Range = "A:C"
	}
	return &SheetsSource{cfg: cfg, newService: sheets.NewService}
}

// ReadRange returns the A1 notation used for reads.
func (s *SheetsSource) ReadRange() string {
	return s.cfg.SheetName + "!" + s.cfg.Range
}

// client returns the API client, creating it on first success. A failed
// creation is retried on the next call.
func (s *SheetsSource) client(ctx context.Context) (*sheets.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service != nil {
		return s.service, nil
	}

	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	if _, err := os.Stat(s.cfg.CredentialsFile); err != nil && s.cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.cfg.CredentialsJSON)))
	} else {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}
	srv, err := s.newService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, &credentialsError{err: err}
	}
	s.service = srv
	return srv, nil
}

// ReadRows fetches the configured range and returns each row as strings.
func (s *SheetsSource) ReadRows(ctx context.Context) ([][]string, error) {
	if s.cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	srv, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := srv.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, s.ReadRange()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.ReadRange(), err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type credentialsError struct{ err error }

func (e *credentialsError) Error() string { return "roster: invalid credentials: " + e.err.Error() }
func (e *credentialsError) Unwrap() error { return e.err }

// Classify names the failure behind a roster read error.
func Classify(err error) string {
	var gerr *googleapi.Error
	var cerr *credentialsError
	var nerr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return FailureEmpty
	case errors.Is(err, ErrNotConfigured), errors.As(err, &cerr):
		return FailureCredentials
	case errors.As(err, &gerr):
		switch gerr.Code {
		case http.StatusNotFound:
			return FailureNotFound
		case http.StatusForbidden:
			return FailurePermissionDenied
		case http.StatusUnauthorized:
			return FailureCredentials
		case http.StatusTooManyRequests:
			return FailureRateLimit
		}
		return FailureUnknown
	case errors.As(err, &nerr), errors.Is(err, context.DeadlineExceeded):
		return FailureNetwork
	}
	return FailureUnknown
}
