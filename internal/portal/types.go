package portal

import "time"

type Protocol string

const (
	ProtocolAS2  Protocol = "AS2"
	ProtocolSFTP Protocol = "SFTP"
	ProtocolAPI  Protocol = "API"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolAS2, ProtocolSFTP, ProtocolAPI:
		return true
	}
	return false
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusExpired  = "expired"

	TestSuccess = "success"
	TestFailed  = "failed"

	DeploymentPending  = "pending"
	DeploymentApproved = "approved"
	DeploymentRejected = "rejected"
)

// Application is a partner integration registered in the portal.
type Application struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Code         string        `json:"code"`
	Description  string        `json:"description,omitempty"`
	Protocol     Protocol      `json:"protocol"`
	Interfaces   []string      `json:"interfaces"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastModified time.Time     `json:"lastModified"`
	Certificates []Certificate `json:"certificates"`
	TestResults  []TestResult  `json:"testResults"`
}

// ApplicationInput is the create form.
type ApplicationInput struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Protocol    Protocol `json:"protocol"`
	Interfaces  []string `json:"interfaces"`
}

// ApplicationUpdate lists the fields a caller may change. Nil means unchanged.
type ApplicationUpdate struct {
	Name        *string   `json:"name"`
	Code        *string   `json:"code"`
	Description *string   `json:"description"`
	Protocol    *Protocol `json:"protocol"`
	Interfaces  *[]string `json:"interfaces"`
	Status      *string   `json:"status"`
}

// Certificate is an uploaded partner certificate. Status is derived from
// ExpiresAt whenever the certificate is read.
type Certificate struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	AppID      string    `json:"appId,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploadedAt"`
	HasContent bool      `json:"hasContent"`
}

// CertificateUpload is the upload form. Content is an optional PEM bundle.
type CertificateUpload struct {
	AppID   string `json:"appId"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// TestResult is one simulated connectivity test run.
type TestResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Interface string    `json:"interface"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

type Checklist struct {
	TestsCompleted        bool `json:"testsCompleted"`
	CertificatesValid     bool `json:"certificatesValid"`
	ConfigurationReviewed bool `json:"configurationReviewed"`
}

type ConnectionDetails struct {
	AS2URL       string `json:"as2Url"`
	AS2ID        string `json:"as2Id"`
	PartnerAS2ID string `json:"partnerAs2Id"`
	GoLiveDate   string `json:"goLiveDate"`
}

// DeploymentRequest asks for production approval of an application.
type DeploymentRequest struct {
	ID                string             `json:"id"`
	AppID             string             `json:"appId"`
	Status            string             `json:"status"`
	Notes             string             `json:"notes,omitempty"`
	Checklist         Checklist          `json:"checklist"`
	ConnectionDetails *ConnectionDetails `json:"connectionDetails,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}

type DeploymentInput struct {
	AppID             string             `json:"appId"`
	Notes             string             `json:"notes"`
	Checklist         Checklist          `json:"checklist"`
	ConnectionDetails *ConnectionDetails `json:"connectionDetails"`
}

// Document is a page of partner documentation.
type Document struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"category"`
	Content     string `json:"content" yaml:"content"`
}

type DocumentSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type Category struct {
	Name      string            `json:"name"`
	Documents []DocumentSummary `json:"documents"`
}

// Dashboard summarises the portal state for the landing page.
type Dashboard struct {
	Applications struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"applications"`
	Certificates struct {
		Total    int `json:"total"`
		Expiring int `json:"expiringSoon"`
		Expired  int `json:"expired"`
	} `json:"certificates"`
	Tests struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
	} `json:"tests"`
	Deployments struct {
		Pending int `json:"pending"`
	} `json:"deployments"`
}
