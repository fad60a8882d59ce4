package http

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/firmware"
	"fleet-monitor/telematics/internal/ingest"
	"fleet-monitor/telematics/internal/violation"
)

func (h *Handler) postTelemetry(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	batch, err := ingest.DecodeBatch(body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	batch.PublicIP = clientIP(r)

	res, err := h.ingest.IngestFromDevice(r.Context(), id.Plate, batch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"message":         res.Message(),
		"updated_vehicle": res.UpdatedVehicle,
	})
}

func clientIP(r *http.Request) string {
	if ip := ingest.ForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) pollCommands(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	cmds, err := h.commands.Poll(r.Context(), id.Plate)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if cmds == nil {
		cmds = []domain.ControllerCommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"controller_commands": cmds})
}

func (h *Handler) postViolations(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	var report violation.Report
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.violations.Report(r.Context(), id.Plate, &report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data":    map[string]any{},
		"message": "",
		"success": true,
	})
}

func (h *Handler) postSOSAlert(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	var report violation.SOSReport
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.violations.RecordSOS(r.Context(), id.Plate, &report); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Created successfully"})
}

func (h *Handler) downloadSketch(w http.ResponseWriter, r *http.Request) {
	info, body, err := h.firmware.Download(r.Context(), r.Header.Get("current-sketch-hash"))
	switch {
	case errors.Is(err, firmware.ErrUpToDate):
		writeJSON(w, http.StatusNotFound, envelope{Success: true, Message: "No update available"})
		return
	case errors.Is(err, firmware.ErrNoSketch):
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "No update available"})
		return
	case err != nil:
		writeError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="sketch.bin"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("sketch download interrupted", "plate", IdentityFrom(r.Context()).Plate, "error", err)
	}
}
