// Package portal implements the partner resources: applications,
// certificates, connectivity tests, deployment requests and documentation.
package portal

import (
	"context"
	_ "embed"
	"encoding/pem"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"ediportal.org/internal/blob"
	"ediportal.org/internal/ids"
	"ediportal.org/internal/obs"
	"ediportal.org/internal/store"
)

const (
	certificateValidity = 365 * 24 * time.Hour
	expiringWindow      = 30 * 24 * time.Hour

	testPassMessage = "Test completed successfully. All validation checks passed."
	testFailMessage = "Test failed. Invalid EDI format in segment ST01."
)

// Collection names shared by every storage backend.
const (
	CollectionApplications = "applications"
	CollectionCertificates = "certificates"
	CollectionDeployments  = "deployments"
	CollectionDocuments    = "documents"
)

//go:embed docs.yaml
var docsCatalog []byte

// Service owns portal resources. Compound writes that touch more than one
// collection are serialized by mu.
type Service struct {
	apps        *store.Collection[Application]
	certs       *store.Collection[Certificate]
	deployments *store.Collection[DeploymentRequest]
	docs        *store.Collection[Document]
	blobs       blob.Store

	now     func() time.Time
	newID   func(prefix string) string
	outcome func() bool

	mu sync.Mutex
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides how resource ids are minted.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTestOutcome replaces the simulated pass/fail source of RunTest.
func WithTestOutcome(fn func() bool) Option {
	return func(s *Service) {
		if fn != nil {
			s.outcome = fn
		}
	}
}

func simulatedOutcome() bool { return rand.Float64() > 0.3 }

func NewService(backend store.Backend, blobs blob.Store, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("portal: store backend is required")
	}
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	s := &Service{
		apps:        store.NewCollection[Application](backend, CollectionApplications),
		certs:       store.NewCollection[Certificate](backend, CollectionCertificates),
		deployments: store.NewCollection[DeploymentRequest](backend, CollectionDeployments),
		docs:        store.NewCollection[Document](backend, CollectionDocuments),
		blobs:       blobs,
		now:         time.Now,
		newID:       ids.WithPrefix,
		outcome:     simulatedOutcome,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadDocuments writes the embedded documentation catalogue into the store.
func (s *Service) LoadDocuments(ctx context.Context) error {
	var docs []Document
	if err := yaml.Unmarshal(docsCatalog, &docs); err != nil {
		return fmt.Errorf("portal: parse docs catalogue: %w", err)
	}
	for _, d := range docs {
		if err := s.docs.Put(ctx, d.ID, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) timestamp() time.Time { return s.now().UTC() }

// mapNotFound converts a store miss into the named resource error.
func mapNotFound(err error, resource string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(resource)
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (s *Service) certStatus(c Certificate) Certificate {
	if !c.ExpiresAt.After(s.now()) {
		c.Status = StatusExpired
	} else {
		c.Status = StatusActive
	}
	return c
}

func (s *Service) present(app Application) Application {
	if app.Interfaces == nil {
		app.Interfaces = []string{}
	}
	if app.TestResults == nil {
		app.TestResults = []TestResult{}
	}
	certs := make([]Certificate, 0, len(app.Certificates))
	for _, c := range app.Certificates {
		certs = append(certs, s.certStatus(c))
	}
	app.Certificates = certs
	return app
}

func cleanInterfaces(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Applications ---------------------------------------------------------------

func (s *Service) ListApplications(ctx context.Context) ([]Application, error) {
	apps, err := s.apps.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Application, 0, len(apps))
	for _, a := range apps {
		out = append(out, s.present(a))
	}
	return out, nil
}

func (s *Service) GetApplication(ctx context.Context, id string) (*Application, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Application")
	}
	app = s.present(app)
	return &app, nil
}

func (s *Service) CreateApplication(ctx context.Context, in ApplicationInput) (*Application, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	if in.Name == "" || in.Code == "" || in.Protocol == "" {
		return nil, invalid("name, code and protocol are required")
	}
	if !in.Protocol.Valid() {
		return nil, invalid("protocol must be one of AS2, SFTP, API")
	}
	now := s.timestamp()
	app := Application{
		ID:           s.newID("app"),
		Name:         in.Name,
		Code:         in.Code,
		Description:  strings.TrimSpace(in.Description),
		Protocol:     in.Protocol,
		Interfaces:   cleanInterfaces(in.Interfaces),
		Status:       StatusActive,
		CreatedAt:    now,
		LastModified: now,
		Certificates: []Certificate{},
		TestResults:  []TestResult{},
	}
	if err := s.apps.Put(ctx, app.ID, app); err != nil {
		return nil, err
	}
	app = s.present(app)
	return &app, nil
}

func (s *Service) UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (*Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Application")
	}
	if upd.Name != nil {
		if v := strings.TrimSpace(*upd.Name); v != "" {
			app.Name = v
		} else {
			return nil, invalid("name must not be empty")
		}
	}
	if upd.Code != nil {
		if v := strings.TrimSpace(*upd.Code); v != "" {
			app.Code = v
		} else {
			return nil, invalid("code must not be empty")
		}
	}
	if upd.Description != nil {
		app.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Protocol != nil {
		if !upd.Protocol.Valid() {
			return nil, invalid("protocol must be one of AS2, SFTP, API")
		}
		app.Protocol = *upd.Protocol
	}
	if upd.Interfaces != nil {
		app.Interfaces = cleanInterfaces(*upd.Interfaces)
	}
	if upd.Status != nil {
		switch *upd.Status {
		case StatusActive, StatusInactive:
			app.Status = *upd.Status
		default:
			return nil, invalid("status must be active or inactive")
		}
	}
	app.LastModified = s.timestamp()
	if err := s.apps.Put(ctx, app.ID, app); err != nil {
		return nil, err
	}
	app = s.present(app)
	return &app, nil
}

// DeleteApplication removes the application. Certificates it referenced stay
// in the certificate collection, since other applications may embed them.
func (s *Service) DeleteApplication(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mapNotFound(s.apps.Delete(ctx, id), "Application")
}

// Certificates ---------------------------------------------------------------

func certificateKey(id string) string { return "certificates/" + id + ".pem" }

func (s *Service) ListCertificates(ctx context.Context) ([]Certificate, error) {
	certs, err := s.certs.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Certificate, 0, len(certs))
	for _, c := range certs {
		out = append(out, s.certStatus(c))
	}
	return out, nil
}

func (s *Service) GetCertificate(ctx context.Context, id string) (*Certificate, error) {
	c, err := s.certs.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Certificate")
	}
	c = s.certStatus(c)
	return &c, nil
}

// CertificateContent returns the uploaded PEM bytes.
func (s *Service) CertificateContent(ctx context.Context, id string) ([]byte, error) {
	c, err := s.certs.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Certificate")
	}
	if !c.HasContent {
		return nil, notFound("Certificate content")
	}
	data, err := s.blobs.Get(ctx, certificateKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, notFound("Certificate content")
	}
	return data, err
}

// UploadCertificate registers a certificate valid for one year and embeds it
// in the owning application.
func (s *Service) UploadCertificate(ctx context.Context, in CertificateUpload) (*Certificate, error) {
	in.AppID = strings.TrimSpace(in.AppID)
	in.Name = strings.TrimSpace(in.Name)
	if in.AppID == "" || in.Name == "" {
		return nil, invalid("appId and name are required")
	}
	content := strings.TrimSpace(in.Content)
	if content != "" {
		if block, _ := pem.Decode([]byte(content)); block == nil {
			return nil, invalid("content must be PEM encoded")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.apps.Get(ctx, in.AppID)
	if err != nil {
		return nil, mapNotFound(err, "Application")
	}
	now := s.timestamp()
	cert := Certificate{
		ID:         s.newID("cert"),
		Name:       in.Name,
		AppID:      app.ID,
		ExpiresAt:  now.Add(certificateValidity),
		Status:     StatusActive,
		UploadedAt: now,
	}
	if content != "" {
		if err := s.blobs.Put(ctx, certificateKey(cert.ID), []byte(content+"\n"), "application/x-pem-file"); err != nil {
			return nil, err
		}
		cert.HasContent = true
	}
	if err := s.storeCertificate(ctx, app, cert); err != nil {
		if cert.HasContent {
			if derr := s.blobs.Delete(ctx, certificateKey(cert.ID)); derr != nil {
				obs.Logger().WithError(derr).WithField("certificate_id", cert.ID).Warn("orphaned certificate content not removed")
			}
		}
		return nil, err
	}
	cert = s.certStatus(cert)
	return &cert, nil
}

// storeCertificate writes the certificate record and embeds it in app. A
// failed embed removes the record again.
func (s *Service) storeCertificate(ctx context.Context, app Application, cert Certificate) error {
	if err := s.certs.Put(ctx, cert.ID, cert); err != nil {
		return err
	}
	app.Certificates = append(app.Certificates, cert)
	app.LastModified = cert.UploadedAt
	if err := s.apps.Put(ctx, app.ID, app); err != nil {
		_ = s.certs.Delete(ctx, cert.ID)
		return err
	}
	return nil
}

// AttachCertificate embeds an existing certificate in another application.
func (s *Service) AttachCertificate(ctx context.Context, appID, certID string) (*Application, error) {
	if strings.TrimSpace(certID) == "" {
		return nil, invalid("certificateId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.apps.Get(ctx, appID)
	if err != nil {
		return nil, mapNotFound(err, "Application")
	}
	cert, err := s.certs.Get(ctx, certID)
	if err != nil {
		return nil, mapNotFound(err, "Certificate")
	}
	attached := slices.ContainsFunc(app.Certificates, func(c Certificate) bool { return c.ID == cert.ID })
	if !attached {
		app.Certificates = append(app.Certificates, cert)
		app.LastModified = s.timestamp()
		if err := s.apps.Put(ctx, app.ID, app); err != nil {
			return nil, err
		}
	}
	app = s.present(app)
	return &app, nil
}

// DeleteCertificate removes the certificate from every application, from the
// certificate collection and from blob storage.
func (s *Service) DeleteCertificate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, err := s.certs.Get(ctx, id)
	if err != nil {
		return mapNotFound(err, "Certificate")
	}
	apps, err := s.apps.List(ctx)
	if err != nil {
		return err
	}
	for _, app := range apps {
		kept := slices.DeleteFunc(slices.Clone(app.Certificates), func(c Certificate) bool { return c.ID == id })
		if len(kept) == len(app.Certificates) {
			continue
		}
		app.Certificates = kept
		if err := s.apps.Put(ctx, app.ID, app); err != nil {
			return err
		}
	}
	if err := s.certs.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if cert.HasContent {
		if err := s.blobs.Delete(ctx, certificateKey(id)); err != nil {
			obs.Logger().WithError(err).WithField("certificate_id", id).Warn("certificate content not removed")
		}
	}
	return nil
}

// Testing --------------------------------------------------------------------

// RunTest records a simulated test of one interface and puts it first in the
// application's history.
func (s *Service) RunTest(ctx context.Context, appID, iface string) (*TestResult, error) {
	appID = strings.TrimSpace(appID)
	iface = strings.TrimSpace(iface)
	if appID == "" {
		return nil, invalid("appId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.apps.Get(ctx, appID)
	if err != nil {
		return nil, mapNotFound(err, "Application")
	}
	if iface == "" {
		return nil, invalid("interface is required")
	}
	result := TestResult{
		ID:        s.newID("test"),
		Timestamp: s.timestamp(),
		Interface: iface,
		Status:    TestFailed,
		Message:   testFailMessage,
	}
	if s.outcome() {
		result.Status = TestSuccess
		result.Message = testPassMessage
	}
	app.TestResults = append([]TestResult{result}, app.TestResults...)
	if err := s.apps.Put(ctx, app.ID, app); err != nil {
		return nil, err
	}
	obs.CountTestRun(result.Status)
	return &result, nil
}

// TestResults returns the application's history, newest first.
func (s *Service) TestResults(ctx context.Context, appID string) ([]TestResult, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, invalid("appId is required")
	}
	app, err := s.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	return app.TestResults, nil
}

// Deployments ----------------------------------------------------------------

func (s *Service) SubmitDeployment(ctx context.Context, in DeploymentInput) (*DeploymentRequest, error) {
	in.AppID = strings.TrimSpace(in.AppID)
	if in.AppID == "" {
		return nil, invalid("appId is required")
	}
	if _, err := s.apps.Get(ctx, in.AppID); err != nil {
		return nil, mapNotFound(err, "Application")
	}
	req := DeploymentRequest{
		ID:                s.newID("deploy"),
		AppID:             in.AppID,
		Status:            DeploymentPending,
		Notes:             strings.TrimSpace(in.Notes),
		Checklist:         in.Checklist,
		ConnectionDetails: in.ConnectionDetails,
		CreatedAt:         s.timestamp(),
	}
	if err := s.deployments.Put(ctx, req.ID, req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Service) GetDeployment(ctx context.Context, id string) (*DeploymentRequest, error) {
	d, err := s.deployments.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Deployment request")
	}
	return &d, nil
}

func (s *Service) ListDeployments(ctx context.Context) ([]DeploymentRequest, error) {
	return s.deployments.List(ctx)
}

// Documents ------------------------------------------------------------------

// ListDocuments groups summaries by category in first-seen order.
func (s *Service) ListDocuments(ctx context.Context) ([]Category, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	categories := []Category{}
	index := map[string]int{}
	for _, d := range docs {
		i, ok := index[d.Category]
		if !ok {
			i = len(categories)
			index[d.Category] = i
			categories = append(categories, Category{Name: d.Category, Documents: []DocumentSummary{}})
		}
		categories[i].Documents = append(categories[i].Documents, DocumentSummary{
			ID: d.ID, Title: d.Title, Description: d.Description, Category: d.Category,
		})
	}
	return categories, nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "Document")
	}
	return &d, nil
}

// Dashboard ------------------------------------------------------------------

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	apps, err := s.apps.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range apps {
		d.Applications.Total++
		if a.Status == StatusActive {
			d.Applications.Active++
		}
		d.Tests.Total += len(a.TestResults)
		for _, r := range a.TestResults {
			if r.Status == TestSuccess {
				d.Tests.Passed++
			}
		}
	}

	certs, err := s.certs.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, c := range certs {
		d.Certificates.Total++
		switch {
		case !c.ExpiresAt.After(now):
			d.Certificates.Expired++
		case c.ExpiresAt.Before(now.Add(expiringWindow)):
			d.Certificates.Expiring++
		}
	}

	deployments, err := s.deployments.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, dep := range deployments {
		if dep.Status == DeploymentPending {
			d.Deployments.Pending++
		}
	}
	return &d, nil
}
