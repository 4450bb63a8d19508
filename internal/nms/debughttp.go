package nms

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/smgw-cluster/segw-core/pkg/log"
)

// NewDebugRouter exposes a tiny read-only HTTP view of the commands an
// operator most often needs without opening an NMS session: fwversion
// and update-status. It is mounted next to the TCP listener, never
// in front of it — merge/query/update/reboot stay NMS-only.
func NewDebugRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CompressHandler)

	r.HandleFunc("/fwversion", func(w http.ResponseWriter, req *http.Request) {
		resp := Response{Command: CmdFWVersion, Version: protocolVersion}
		h.cmdFWVersion(&resp)
		writeJSON(w, resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/update-status", func(w http.ResponseWriter, req *http.Request) {
		resp := Response{Command: CmdUpdateStatus, Version: protocolVersion}
		h.cmdUpdateStatus(&resp)
		writeJSON(w, resp)
	}).Methods(http.MethodGet)

	return handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("nms-debug: %s %s -> %d", params.Request.Method, params.URL.Path, params.StatusCode)
	})
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.EC != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
