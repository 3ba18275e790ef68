package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ajadi/boxdns/auth"
	"github.com/ajadi/boxdns/backup"
	"github.com/ajadi/boxdns/custom"
	"github.com/ajadi/boxdns/models"
	"github.com/ajadi/boxdns/updater"
	"github.com/ajadi/boxdns/utils"
)

// Service is the DNS engine behind the API.
type Service interface {
	Run(ctx context.Context, force bool) (*updater.Result, error)
	Recommended(ctx context.Context) ([]models.ZoneRecords, error)
	CustomRecords() custom.Records
	SetCustomRecord(ctx context.Context, qname, rtype, value string) (bool, error)
	DeleteCustomRecord(ctx context.Context, qname, rtype string) (bool, error)
}

// HTTPAPI holds references to the engine, backups and the SSE hub.
type HTTPAPI struct {
	Service    Service
	BackupSvc  *backup.BackupService
	CustomFile string
	SSEHub     *SSEHub
	Validate   *validator.Validate
}

// CustomRecord is one stored override in API form.
type CustomRecord struct {
	QName string `json:"qname"`
	Type  string `json:"rtype"`
	Value string `json:"value"`
}

type setRequest struct {
	Value string `json:"value" validate:"required"`
}

type changeResponse struct {
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

// NewHTTPAPI constructs the management API and starts its SSE hub.
func NewHTTPAPI(ctx context.Context, svc Service, backupSvc *backup.BackupService, customFile string) *HTTPAPI {
	hub := NewSSEHub()
	go hub.Run(ctx)

	return &HTTPAPI{
		Service:    svc,
		BackupSvc:  backupSvc,
		CustomFile: customFile,
		SSEHub:     hub,
		Validate:   validator.New(),
	}
}

// Router builds the routes. Everything but /login and /metrics requires a
// bearer token.
func (api *HTTPAPI) Router(authSvc *auth.AuthService, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/login", authSvc.HandleLogin).Methods(http.MethodPost)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	d := r.PathPrefix("/dns").Subrouter()
	d.Use(authSvc.Middleware)
	d.HandleFunc("/records", api.GetRecords).Methods(http.MethodGet)
	d.HandleFunc("/custom", api.GetCustomRecords).Methods(http.MethodGet)
	d.HandleFunc("/custom/backup", api.HandleBackup).Methods(http.MethodPost)
	d.HandleFunc("/custom/restore", api.HandleRestore).Methods(http.MethodPost)
	d.HandleFunc("/custom/{qname}/{rtype}", api.SetCustomRecord).Methods(http.MethodPut)
	d.HandleFunc("/custom/{qname}/{rtype}", api.DeleteCustomRecord).Methods(http.MethodDelete)
	d.HandleFunc("/update", api.HandleUpdate).Methods(http.MethodPost)
	d.HandleFunc("/events", api.HandleSubscribeSSE).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("Error serializing response")
	}
}

func (api *HTTPAPI) serverError(w http.ResponseWriter, msg string, err error) {
	logrus.WithFields(logrus.Fields{"error": err}).Error(msg)
	utils.CaptureError(err)
	http.Error(w, msg, http.StatusInternalServerError)
}

// GetRecords returns the records to publish for every zone.
func (api *HTTPAPI) GetRecords(w http.ResponseWriter, r *http.Request) {
	zones, err := api.Service.Recommended(r.Context())
	if err != nil {
		api.serverError(w, "Error building zones", err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

// GetCustomRecords returns the stored overrides.
func (api *HTTPAPI) GetCustomRecords(w http.ResponseWriter, r *http.Request) {
	records := api.Service.CustomRecords()
	out := []CustomRecord{}
	for _, name := range records.Names() {
		values, _ := records.Get(name, false)
		for _, v := range values {
			out = append(out, CustomRecord{QName: name, Type: v.Type, Value: v.Value})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// SetCustomRecord stores an override from a {"value": ...} body and
// republishes the zones when it changed something.
func (api *HTTPAPI) SetCustomRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Invalid data in custom record request")
		http.Error(w, "Invalid data", http.StatusBadRequest)
		return
	}
	if err := api.Validate.Struct(req); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Validation error in custom record request")
		http.Error(w, "A value is required", http.StatusBadRequest)
		return
	}

	changed, err := api.Service.SetCustomRecord(r.Context(), vars["qname"], vars["rtype"], req.Value)
	api.finishChange(w, r, changed, err)
}

// DeleteCustomRecord removes an override.
func (api *HTTPAPI) DeleteCustomRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	changed, err := api.Service.DeleteCustomRecord(r.Context(), vars["qname"], vars["rtype"])
	api.finishChange(w, r, changed, err)
}

func (api *HTTPAPI) finishChange(w http.ResponseWriter, r *http.Request, changed bool, err error) {
	if err != nil {
		if errors.Is(err, custom.ErrNotManaged) || errors.Is(err, custom.ErrInvalidType) || errors.Is(err, custom.ErrInvalidValue) {
			logrus.WithFields(logrus.Fields{"error": err}).Warn("Rejected custom record")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		api.serverError(w, "Error saving custom records", err)
		return
	}
	resp := changeResponse{Changed: changed}
	if changed {
		res, err := api.Service.Run(r.Context(), false)
		if err != nil {
			api.serverError(w, "Error updating DNS", err)
			return
		}
		resp.Message = res.Message()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUpdate runs an update; ?force=1 rewrites and re-signs every zone.
func (api *HTTPAPI) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "1"
	res, err := api.Service.Run(r.Context(), force)
	if err != nil {
		api.serverError(w, "Error updating DNS", err)
		return
	}
	writeJSON(w, http.StatusOK, changeResponse{Changed: res.Changed(), Message: res.Message()})
}

// HandleBackup snapshots the override document.
func (api *HTTPAPI) HandleBackup(w http.ResponseWriter, r *http.Request) {
	name, err := api.BackupSvc.Snapshot("custom", api.CustomFile)
	if err != nil {
		api.serverError(w, "Error performing backup", err)
		return
	}
	if name == "" {
		http.Error(w, "No custom records to back up", http.StatusNotFound)
		return
	}
	logrus.WithFields(logrus.Fields{"backup": name}).Info("Backup performed successfully")
	writeJSON(w, http.StatusOK, map[string]string{"backup": name})
}

// HandleRestore restores ?backup=<name>, or the latest backup, and
// republishes the zones.
func (api *HTTPAPI) HandleRestore(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("backup")
	if name == "" {
		latest, err := api.BackupSvc.Latest("custom")
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err}).Warn("No backup to restore")
			http.Error(w, "No backup available", http.StatusNotFound)
			return
		}
		name = latest
	}
	if err := api.BackupSvc.Restore("custom", api.CustomFile, name); err != nil {
		logrus.WithFields(logrus.Fields{"backup": name, "error": err}).Warn("Error restoring from backup")
		http.Error(w, "Error restoring from backup", http.StatusBadRequest)
		return
	}
	res, err := api.Service.Run(r.Context(), false)
	if err != nil {
		api.serverError(w, "Error updating DNS", err)
		return
	}
	logrus.WithFields(logrus.Fields{"backup": name}).Info("Restore from backup performed successfully")
	writeJSON(w, http.StatusOK, changeResponse{Changed: res.Changed(), Message: res.Message()})
}
