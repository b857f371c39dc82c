package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ediportal.org/internal/audit"
	"ediportal.org/internal/portal"
)

type attachRequest struct {
	CertificateID string `json:"certificateId"`
}

type runTestRequest struct {
	AppID     string `json:"appId"`
	Interface string `json:"interface"`
}

// --- applications ---

func (a *API) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := a.portal.ListApplications(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (a *API) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var in portal.ApplicationInput
	if !bindJSON(w, r, &in) {
		return
	}
	app, err := a.portal.CreateApplication(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "app.created", map[string]any{"app_id": app.ID, "code": app.Code})
	writeJSON(w, http.StatusCreated, app)
}

func (a *API) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, err := a.portal.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	var upd portal.ApplicationUpdate
	if !bindJSON(w, r, &upd) {
		return
	}
	app, err := a.portal.UpdateApplication(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "app.updated", map[string]any{"app_id": app.ID})
	writeJSON(w, http.StatusOK, app)
}

func (a *API) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.portal.DeleteApplication(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "app.deleted", map[string]any{"app_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAttachCertificate(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !bindJSON(w, r, &req) {
		return
	}
	app, err := a.portal.AttachCertificate(r.Context(), mux.Vars(r)["id"], req.CertificateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "certificate.attached", map[string]any{"app_id": app.ID, "certificate_id": req.CertificateID})
	writeJSON(w, http.StatusOK, app)
}

// --- certificates ---

func (a *API) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := a.portal.ListCertificates(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

func (a *API) handleUploadCertificate(w http.ResponseWriter, r *http.Request) {
	var in portal.CertificateUpload
	if !bindJSON(w, r, &in) {
		return
	}
	cert, err := a.portal.UploadCertificate(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "certificate.uploaded", map[string]any{"certificate_id": cert.ID, "app_id": cert.AppID})
	writeJSON(w, http.StatusCreated, cert)
}

func (a *API) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := a.portal.GetCertificate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (a *API) handleCertificateContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pem, err := a.portal.CertificateContent(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.pem"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pem)
}

func (a *API) handleDeleteCertificate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.portal.DeleteCertificate(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "certificate.deleted", map[string]any{"certificate_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- testing ---

// handleTestResults serves both /api/testing?appId= and /api/testing/{appId}.
func (a *API) handleTestResults(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["appId"]
	if appID == "" {
		appID = strings.TrimSpace(r.URL.Query().Get("appId"))
	}
	results, err := a.portal.TestResults(r.Context(), appID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []portal.TestResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleRunTest(w http.ResponseWriter, r *http.Request) {
	var req runTestRequest
	if !bindJSON(w, r, &req) {
		return
	}
	result, err := a.portal.RunTest(r.Context(), req.AppID, req.Interface)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "test.run", map[string]any{"app_id": req.AppID, "status": result.Status})
	writeJSON(w, http.StatusCreated, result)
}

// --- deployments ---

func (a *API) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := a.portal.ListDeployments(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if deps == nil {
		deps = []portal.DeploymentRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deps})
}

func (a *API) handleSubmitDeployment(w http.ResponseWriter, r *http.Request) {
	var in portal.DeploymentInput
	if !bindJSON(w, r, &in) {
		return
	}
	req, err := a.portal.SubmitDeployment(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "deployment.submitted", map[string]any{"deployment_id": req.ID, "app_id": req.AppID})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	req, err := a.portal.GetDeployment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- documentation ---

func (a *API) handleListDocs(w http.ResponseWriter, r *http.Request) {
	cats, err := a.portal.ListDocuments(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (a *API) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := a.portal.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.portal.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
