package api

import (
	"encoding/json"
	"net/http"
	"time"

	"geo-nearby/internal/config"
	"geo-nearby/internal/nearby"
)

// 文档注释：触发检索请求
// 背景：宿主前端在用户选中要素后提交数据源与要素标识；要素从该数据源在地图表面上的渲染图层中查找。
type nearbyRequest struct {
	Source    string `json:"source"`
	FeatureID int64  `json:"feature_id"`
}

type runResponse struct {
	ID      string    `json:"id"`
	Gen     uint64    `json:"gen"`
	Started time.Time `json:"started"`
	State   string    `json:"state"`
}

type reportResponse struct {
	Run        runResponse `json:"run"`
	Result     string      `json:"result"`
	Phase      string      `json:"phase"`
	Matched    int         `json:"matched"`
	Selected   int         `json:"selected"`
	Skipped    int         `json:"skipped"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

type configResponse struct {
	Settings   config.Settings `json:"settings"`
	Ready      bool            `json:"ready"`
	Executable bool            `json:"executable"`
}

type selectionResponse struct {
	Source   string  `json:"source"`
	Surface  string  `json:"surface"`
	Selected []int64 `json:"selected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRun(r nearby.Run) runResponse {
	return runResponse{ID: r.ID, Gen: r.Gen, Started: r.Started, State: r.State.String()}
}

func toReport(r nearby.Report) reportResponse {
	out := reportResponse{
		Run:        toRun(r.Run),
		Result:     r.Result,
		Phase:      r.Phase.String(),
		Matched:    r.Matched,
		Selected:   r.Selected,
		Skipped:    r.Skipped,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
