package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/gorilla/mux"
)

func setCorsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug(log.RPC, "write response", "err", err)
	}
}

// writeJSONError answers {error, hint}; error is one of the chunk statuses
// or "bad_request".
func writeJSONError(w http.ResponseWriter, status int, code, hint string) {
	writeJSON(w, status, map[string]string{"error": code, "hint": hint})
}

func httpStatus(status string) int {
	switch status {
	case StatusUnknownRoot, StatusUnknownChunk:
		return http.StatusNotFound
	case StatusPruned:
		return http.StatusGone
	default:
		return http.StatusServiceUnavailable
	}
}

// Router serves the DA HTTP API.
func (n *Node) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			setCorsHeaders(w)
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/da/chunk/{root}/{index}", n.handleGetChunk).Methods("GET", "OPTIONS")
	r.HandleFunc("/da/params", n.handleGetParams).Methods("GET", "OPTIONS")
	r.HandleFunc("/da/block/{hash}", n.handleGetBlock).Methods("GET", "OPTIONS")
	r.HandleFunc("/health", n.handleHealth).Methods("GET", "OPTIONS")
	r.Handle("/metrics", n.metrics.Handler()).Methods("GET")
	return r
}

func (n *Node) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	root, index, err := parseChunkArgs(vars["root"], vars["index"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	proof, err := n.GetChunk(root, index)
	if err != nil {
		status := chunkStatus(err)
		writeJSONError(w, httpStatus(status), status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (n *Node) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.params.Info())
}

// handleGetBlock returns the block's DaRoot and, once finished, its audit.
func (n *Node) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	raw, err := common.DecodeHex(mux.Vars(r)["hash"])
	if err != nil || len(raw) != 32 {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "block hash must be 32 bytes of hex")
		return
	}
	hash := common.BytesToHash(raw)
	root, height, err := n.store.RootByBlock(hash)
	if err != nil {
		status := chunkStatus(err)
		writeJSONError(w, httpStatus(status), status, err.Error())
		return
	}
	resp := struct {
		BlockRoot
		Audit interface{} `json:"audit,omitempty"`
	}{BlockRoot: BlockRoot{Root: root, Height: height}}
	if report, ok := n.AuditReport(hash); ok {
		resp.Audit = report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := n.store.Stats()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, StatusIOError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": Version,
		"height":  n.Height(),
		"store":   stats,
		"audits":  n.workers.ListWorkers(),
	})
}

func (n *Node) startHTTPServer(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	n.httpAddr = listener.Addr()
	n.httpServer = &http.Server{
		Handler:           n.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info(log.RPC, "HTTP server started", "addr", listener.Addr().String())
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(log.RPC, "http server", "err", err)
		}
	}()
	return nil
}
