package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/zone"
)

func (h *Handler) createCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code domain.CommandCode `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	code := domain.CommandCode(strings.ToUpper(string(req.Code)))

	cmd, created, err := h.commands.Create(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, cmd)
}

func (h *Handler) cancelCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.commands.Cancel(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, cmd)
}

func (h *Handler) listCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort, err := domain.ParseSort(q.Get("sort"), q.Get("dir"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	cmds, total, err := h.commands.List(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["plate"],
		domain.CommandQuery{Sort: sort, Page: page})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if cmds == nil {
		cmds = []domain.ControllerCommand{}
	}
	writeData(w, http.StatusOK, map[string]any{"items": cmds, "total": total})
}

func (h *Handler) pendingCommands(w http.ResponseWriter, r *http.Request) {
	n, err := h.commands.PendingCount(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["plate"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"pending": n})
}

func (h *Handler) applyZone(w http.ResponseWriter, r *http.Request) {
	var req zone.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v, err := h.zones.Apply(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (h *Handler) updateViolationSettings(w http.ResponseWriter, r *http.Request) {
	var s zone.Settings
	if err := decodeJSON(w, r, &s); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v, err := h.zones.UpdateSettings(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], &s)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (h *Handler) forceUnlock(w http.ResponseWriter, r *http.Request) {
	v, err := h.zones.ForceUnlock(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime("date_from", q.Get("date_from"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseTime("date_to", q.Get("date_to"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	buckets, err := h.analyticsEngine.Buckets(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, buckets)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime("date_from", q.Get("date_from"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseTime("date_to", q.Get("date_to"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	points, err := h.analyticsEngine.History(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if points == nil {
		points = []domain.TrackingPoint{}
	}
	writeData(w, http.StatusOK, points)
}

func (h *Handler) listViolations(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items, err := h.violations.ListViolations(r.Context(), IdentityFrom(r.Context()), r.URL.Query().Get("vehicle_id"), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []domain.Violation{}
	}
	writeData(w, http.StatusOK, items)
}

func (h *Handler) listSOSAlerts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items, err := h.violations.ListSOSAlerts(r.Context(), IdentityFrom(r.Context()), r.URL.Query().Get("vehicle_id"), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []domain.SOSAlert{}
	}
	writeData(w, http.StatusOK, items)
}

func (h *Handler) patchSOSAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HelpDispatched *bool `json:"help_dispatched"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.HelpDispatched == nil {
		writeError(w, r, h.logger, domain.Invalid("help_dispatched is required"))
		return
	}

	alert, err := h.violations.SetHelpDispatched(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], *req.HelpDispatched)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, alert)
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.zones.ListRoutes(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if routes == nil {
		routes = []domain.Route{}
	}
	writeData(w, http.StatusOK, routes)
}

func (h *Handler) createRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string          `json:"name"`
		Bounds []domain.LatLng `json:"bounds"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	route, err := h.zones.CreateRoute(r.Context(), IdentityFrom(r.Context()), req.Name, req.Bounds)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, route)
}

func (h *Handler) updateRoute(w http.ResponseWriter, r *http.Request) {
	var patch zone.RoutePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	route, err := h.zones.UpdateRoute(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"], &patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, route)
}

func (h *Handler) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.zones.DeleteRoute(r.Context(), IdentityFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Deleted successfully"})
}

func (h *Handler) uploadSketch(w http.ResponseWriter, r *http.Request) {
	if err := IdentityFrom(r.Context()).RequireSuperAdmin(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req struct {
		Base64 string `json:"base64"`
	}
	body, err := readBody(w, r, maxSketchBytes)
	if err == nil {
		err = decodeBytes(body, &req)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	info, err := h.firmware.Upload(r.Context(), IdentityFrom(r.Context()), req.Base64)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, info)
}

func (h *Handler) sketchInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.firmware.Info(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "No sketch uploaded"})
		return
	}
	writeData(w, http.StatusOK, info)
}
