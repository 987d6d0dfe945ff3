// 包 api：宿主 HTTP 接口，触发邻近检索、读取选中结果与维护动作配置
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"geo-nearby/internal/catalog"
	"geo-nearby/internal/config"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/mapview"
	"geo-nearby/internal/nearby"
	"geo-nearby/internal/selection"
)

// Deps 路由依赖
type Deps struct {
	Orchestrator *nearby.Orchestrator
	Settings     *config.Surface
	Catalog      *catalog.Catalog
	Host         *mapview.Registry
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	apiMux := http.NewServeMux()

	// 文档注释：触发检索
	// 背景：资格检查不通过返回 409；通过后立即返回 202，检索在后台完成，请求结束不取消检索。
	apiMux.HandleFunc("POST /nearby", func(w http.ResponseWriter, r *http.Request) {
		var req nearbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		trigger, ok := d.Catalog.Get(req.Source)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown source")
			return
		}
		feature, ok := mapview.FindFeature(d.Host, req.Source, trigger.IDField(), req.FeatureID)
		if !ok {
			writeError(w, http.StatusNotFound, "feature not rendered")
			return
		}
		if !d.Orchestrator.CanExecute(trigger, feature) {
			writeError(w, http.StatusConflict, "search not eligible")
			return
		}
		run, err := d.Orchestrator.Execute(context.WithoutCancel(r.Context()), trigger, feature)
		if err != nil {
			if errors.Is(err, nearby.ErrNotEligible) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.L().Debug("api_nearby_accepted", "run", run.ID, "source", req.Source, "feature_id", req.FeatureID)
		writeJSON(w, http.StatusAccepted, toRun(run))
	})

	apiMux.HandleFunc("GET /nearby/last", func(w http.ResponseWriter, r *http.Request) {
		rep, ok := d.Orchestrator.Last()
		if !ok {
			writeError(w, http.StatusNotFound, "no completed search")
			return
		}
		writeJSON(w, http.StatusOK, toReport(rep))
	})

	apiMux.HandleFunc("GET /layers/{source}/selection", func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("source")
		s, ok := d.Host.SurfaceFor(source)
		if !ok {
			writeError(w, http.StatusNotFound, "source not rendered")
			return
		}
		layer, ok := s.Layer(source)
		if !ok {
			writeError(w, http.StatusNotFound, "source not rendered")
			return
		}
		extract := selection.FieldExtractor(idField(d.Catalog, source))
		out := selectionResponse{Source: source, Surface: s.ID, Selected: []int64{}}
		for _, f := range layer.Selected() {
			if id, err := extract(f); err == nil {
				out.Selected = append(out.Selected, int64(id))
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	apiMux.HandleFunc("GET /sources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Catalog.Entries())
	})

	apiMux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		s := d.Settings.Snapshot()
		writeJSON(w, http.StatusOK, configResponse{Settings: s, Ready: d.Settings.Ready(), Executable: s.Executable()})
	})

	// 文档注释：确认配置
	// 背景：请求体即对话框的确认结果；非法值返回 400 且配置保持不变。
	apiMux.HandleFunc("PUT /config", func(w http.ResponseWriter, r *http.Request) {
		var s config.Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		if s.TargetID != "" {
			if _, ok := d.Catalog.Get(s.TargetID); !ok {
				writeError(w, http.StatusBadRequest, "unknown target source")
				return
			}
		}
		executable, err := d.Settings.Configure(r.Context(), config.StaticDialog{Settings: s})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, configResponse{Settings: d.Settings.Snapshot(), Ready: d.Settings.Ready(), Executable: executable})
	})

	return apiMux
}

func idField(c *catalog.Catalog, source string) string {
	if ds, ok := c.Get(source); ok {
		return ds.IDField()
	}
	return ""
}
