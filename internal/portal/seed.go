package portal

import (
	"context"
	"errors"
	"time"

	"ediportal.org/internal/store"
)

// SeedDemo installs the sample "Order Processor" application with one
// certificate and one passed 940 test. Existing data is left untouched.
func (s *Service) SeedDemo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.apps.Get(ctx, "app-1")
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := s.timestamp()
	cert := Certificate{
		ID:         "cert-1",
		Name:       "Partner AS2 Certificate",
		AppID:      "app-1",
		ExpiresAt:  now.Add(certificateValidity),
		Status:     StatusActive,
		UploadedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	app := Application{
		ID:           "app-1",
		Name:         "Order Processor",
		Code:         "ORD-PROC",
		Description:  "Processes order EDI messages (940)",
		Protocol:     ProtocolAS2,
		Interfaces:   []string{"940", "997"},
		Status:       StatusActive,
		CreatedAt:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		LastModified: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		Certificates: []Certificate{cert},
		TestResults: []TestResult{{
			ID:        "test-1",
			Timestamp: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
			Interface: "940",
			Status:    TestSuccess,
			Message:   "All validation checks passed",
		}},
	}
	if err := s.certs.Put(ctx, cert.ID, cert); err != nil {
		return err
	}
	return s.apps.Put(ctx, app.ID, app)
}
