package health

import (
	"encoding/json"
	"net/http"

	gatewayerrors "github.com/wudi/gateway/internal/errors"
)

// Document is the aggregate /health response body.
type Document struct {
	Status    Status              `json:"status"`
	Upstreams map[string]Snapshot `json:"upstreams"`
}

// LiveHandler always returns 200 as long as the process is running; it
// performs no dependency checks.
func LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadyHandler returns 200 only when every upstream tagged Ready is not Unhealthy.
func ReadyHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !checker.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// Handler serves the aggregate health document. A `deep=true` query
// parameter triggers a synchronous probe cycle before responding; any other
// non-empty deep value (or an empty deep=) is a 400.
func Handler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var snapshots map[string]Snapshot

		if raw, present := r.URL.Query()["deep"]; present {
			switch raw[0] {
			case "true":
				snapshots = checker.ProbeNow(r.Context())
			case "false":
				snapshots = checker.Snapshots()
			default:
				gatewayerrors.New(gatewayerrors.KindBadRequest, "deep must be \"true\" or \"false\"").
					WithRequest(r.Method, r.URL.Path).
					WriteJSON(w)
				return
			}
		} else {
			snapshots = checker.Snapshots()
		}

		doc := Document{
			Status:    OverallStatus(snapshots),
			Upstreams: snapshots,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(doc)
	}
}
