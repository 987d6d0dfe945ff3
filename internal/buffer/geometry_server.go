package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
)

// Service 远端缓冲运算契约；返回一个或多个面，调用方只使用第一个
type Service interface {
	Buffer(ctx context.Context, p Params) ([]orb.Geometry, error)
}

// DefaultGeometryServerURL 公共 GeometryServer 地址，可由 GEOMETRY_SERVICE_URL 覆盖
const DefaultGeometryServerURL = "http://tasks.arcgisonline.com/ArcGIS/rest/services/Geometry/GeometryServer"

// 文档注释：GeometryServer 缓冲客户端（REST）
// 背景：调用 ArcGIS REST GeometryServer 的 buffer 操作，请求以表单提交，响应为 Esri JSON。
// 约束：非 200 状态与解码失败视为传输失败；响应中的 error 对象转换为 ServiceError；不在此处重试。
type GeometryServer struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewGeometryServer：client 为空时使用无超时的默认客户端，超时由调用方上下文控制
func NewGeometryServer(endpoint string, client *http.Client) *GeometryServer {
	if endpoint == "" {
		endpoint = DefaultGeometryServerURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeometryServer{endpoint: strings.TrimRight(endpoint, "/"), client: client, log: logger.With("geometry_server")}
}

type esriGeometries struct {
	GeometryType string              `json:"geometryType,omitempty"`
	Geometries   []geom.EsriGeometry `json:"geometries"`
}

type esriError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type bufferResponse struct {
	Geometries []geom.EsriGeometry `json:"geometries"`
	Error      *esriError          `json:"error"`
}

func (g *GeometryServer) Buffer(ctx context.Context, p Params) ([]orb.Geometry, error) {
	form, err := encodeParams(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/buffer", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	t0 := time.Now()
	g.log.Debug("buffer_http_req", "unit", p.Unit.String(), "distances", p.Distances, "sr", p.BufferSR)
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Debug("buffer_http_error", "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geometry service status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var r bufferResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode buffer response: %w", err)
	}
	g.log.Debug("buffer_http_resp", "geometries", len(r.Geometries), "duration_ms", time.Since(t0).Milliseconds())
	if r.Error != nil {
		return nil, &ServiceError{Code: r.Error.Code, Message: r.Error.Message, Details: r.Error.Details}
	}
	out := make([]orb.Geometry, 0, len(r.Geometries))
	for _, eg := range r.Geometries {
		og, err := eg.Orb()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoResult, err)
		}
		if og != nil {
			out = append(out, og)
		}
	}
	return out, nil
}

// Ping 探测服务可用性（GET ?f=json）
func (g *GeometryServer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?f=json", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geometry service status %d", resp.StatusCode)
	}
	return nil
}

func encodeParams(p Params) (url.Values, error) {
	if len(p.Geometries) == 0 {
		return nil, fmt.Errorf("%w: no geometries", ErrInvalidSpec)
	}
	var gs esriGeometries
	for _, og := range p.Geometries {
		eg, typ, err := geom.ToEsri(og, 0)
		if err != nil {
			return nil, err
		}
		if gs.GeometryType != "" && gs.GeometryType != typ {
			return nil, fmt.Errorf("%w: mixed geometry types %s and %s", ErrInvalidSpec, gs.GeometryType, typ)
		}
		gs.GeometryType = typ
		gs.Geometries = append(gs.Geometries, eg)
	}
	b, err := json.Marshal(gs)
	if err != nil {
		return nil, err
	}
	ds := make([]string, 0, len(p.Distances))
	for _, d := range p.Distances {
		ds = append(ds, strconv.FormatFloat(d, 'f', -1, 64))
	}
	v := url.Values{}
	v.Set("geometries", string(b))
	v.Set("distances", strings.Join(ds, ","))
	v.Set("unit", strconv.Itoa(p.Unit.Code()))
	if p.InSR > 0 {
		v.Set("inSR", strconv.Itoa(p.InSR))
	}
	if p.OutSR > 0 {
		v.Set("outSR", strconv.Itoa(p.OutSR))
	}
	if p.BufferSR > 0 {
		v.Set("bufferSR", strconv.Itoa(p.BufferSR))
	}
	v.Set("unionResults", strconv.FormatBool(p.UnionResults))
	v.Set("f", "json")
	return v, nil
}
